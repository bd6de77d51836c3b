package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	einride "go.einride.tech/can"

	"github.com/kstaniek/go-socketcan/can"
)

var errSyntax = errors.New("invalid frame")

// parseFrame reads the can-utils notation:
//
//	123#DEADBEEF       classic data frame (3 hex digits: standard id)
//	1F334455#11        classic data frame (8 hex digits: extended id)
//	123#R  123#R3      remote frame with optional DLC
//	123##1001122       FD frame: flag nibble (BRS=1, ESI=2) then data
func parseFrame(s string) (can.Frame, error) {
	idStr, rest, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok || idStr == "" {
		return nil, fmt.Errorf("%w %q: want ID#DATA, ID#R or ID##FDATA", errSyntax, s)
	}
	id, err := parseID(idStr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", errSyntax, s, err)
	}
	switch {
	case strings.HasPrefix(rest, "#"):
		return parseFD(id, rest[1:])
	case strings.HasPrefix(rest, "R"), strings.HasPrefix(rest, "r"):
		return parseRemote(id, rest[1:])
	}
	// classic frames go through einride so both tools agree on the notation
	var ef einride.Frame
	if err := ef.UnmarshalString(id.String() + "#" + rest); err != nil {
		return nil, fmt.Errorf("%w %q: %w", errSyntax, s, err)
	}
	return can.MakeDataFrame(id, ef.Data[:ef.Length])
}

// parseID treats more than three hex digits as an extended identifier.
func parseID(s string) (can.ID, error) {
	if len(s) > 8 {
		return can.ID{}, fmt.Errorf("id %q longer than 8 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return can.ID{}, fmt.Errorf("id %q: %w", s, err)
	}
	return can.NewID(uint32(v), len(s) > 3)
}

func parseFD(id can.ID, s string) (can.Frame, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: fd frame needs a flag nibble", errSyntax)
	}
	flags, err := strconv.ParseUint(s[:1], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: fd flags %q: %w", errSyntax, s[:1], err)
	}
	data, err := hex.DecodeString(s[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: fd data: %w", errSyntax, err)
	}
	return can.MakeFdDataFrame(id, flags&can.CANFD_BRS != 0, flags&can.CANFD_ESI != 0, data)
}

func parseRemote(id can.ID, s string) (can.Frame, error) {
	dlc := 0
	if s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: remote dlc %q: %w", errSyntax, s, err)
		}
		dlc = n
	}
	return can.MakeRemoteFrame(id, dlc)
}

func splitArgs(args []string, defaultIf string) (ifname, frame string, err error) {
	switch {
	case len(args) == 2:
		return args[0], args[1], nil
	case len(args) == 1 && defaultIf != "":
		return defaultIf, args[0], nil
	}
	return "", "", fmt.Errorf("need IFNAME and FRAME (or CAN_IF and FRAME)")
}
