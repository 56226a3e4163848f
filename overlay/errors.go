package overlay

import "errors"

var (
	// ErrDoesNotExist means the secret has no certificate file. It is an
	// expected condition, not a failure.
	ErrDoesNotExist = errors.New("certificate does not exist")
	// ErrParsingFailed means a certificate file or blob is malformed.
	ErrParsingFailed = errors.New("certificate parsing failed")
	// ErrUnsupportedType means the certificate's key type cannot be reduced.
	ErrUnsupportedType = errors.New("unsupported certificate type")
)
