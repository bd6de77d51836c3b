package can

import "errors"

var (
	// ErrUnrecognizedFrameSize is returned by Decode when the buffer length
	// matches neither the classic nor the FD wire size.
	ErrUnrecognizedFrameSize = errors.New("can: unrecognized frame size")
	// ErrIDRange is returned by NewID for identifiers wider than their format.
	ErrIDRange = errors.New("can: identifier out of range")
	// ErrDataLength is returned by the checked constructors for oversized payloads.
	ErrDataLength = errors.New("can: invalid data length")
)
