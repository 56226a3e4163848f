package witness

import "errors"

var (
	// ErrOriginNotAllowed is returned when the requesting application matches
	// none of the allowed origin patterns.
	ErrOriginNotAllowed = errors.New("origin not allowed")

	// ErrIncompleteChain is returned when intact provenance is required and
	// part of the process chain could not be verified.
	ErrIncompleteChain = errors.New("process chain could not be verified")

	// ErrPolicyDenied is returned when a policy plugin refuses a signature.
	ErrPolicyDenied = errors.New("denied by policy")
)
