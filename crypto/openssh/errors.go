package openssh

import "errors"

var (
	// ErrTruncated is returned when a frame or field is shorter than its
	// declared length.
	ErrTruncated = errors.New("truncated data")
	// ErrMalformedFrame is returned for frames that cannot be valid, such as a
	// declared length larger than MaxFrameSize.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnsupportedKeyType is returned for algorithm and size combinations
	// that have no OpenSSH encoding here.
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	// ErrInvalidSignature is returned when a store's signature cannot be
	// converted to the OpenSSH encoding.
	ErrInvalidSignature = errors.New("invalid signature")
)
