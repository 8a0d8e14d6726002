package protocol

import "errors"

var (
	// ErrDecode wraps every reason a frame could not be turned into a Message.
	ErrDecode = errors.New("protocol: decode failed")

	ErrInvalidMagic       = errors.New("protocol: invalid magic")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrUnknownKind        = errors.New("protocol: unknown message kind")
	ErrTruncated          = errors.New("protocol: truncated frame")
)
