package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-socketcan/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	return logging.Setup("can-server", format, level, os.Stderr)
}
