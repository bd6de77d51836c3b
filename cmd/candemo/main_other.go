//go:build !linux

package main

import (
	"fmt"
	"os"

	"github.com/kstaniek/go-socketcan/socketcan"
)

func main() {
	fmt.Fprintln(os.Stderr, "candemo:", socketcan.ErrUnsupported)
	os.Exit(1)
}
