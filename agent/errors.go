package agent

import "errors"

var (
	// ErrNoMatchingKey is returned when no stored secret matches the key in a
	// sign request.
	ErrNoMatchingKey = errors.New("no matching key")

	// ErrUnsupportedRequest is returned for requests the agent does not serve,
	// such as adding or removing identities.
	ErrUnsupportedRequest = errors.New("unsupported request")

	// ErrObjection is returned when the witness refuses a signature.
	ErrObjection = errors.New("witness objected to signature")
)
