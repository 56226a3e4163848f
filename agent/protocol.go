package agent

// RequestType identifies an agent request by its opcode.
type RequestType byte

// Request opcodes.
const (
	Unknown                    RequestType = 0
	RequestIdentities          RequestType = 11
	SignRequest                RequestType = 13
	AddIdentity                RequestType = 17
	RemoveIdentity             RequestType = 18
	RemoveAllIdentities        RequestType = 19
	AddSmartcardKey            RequestType = 20
	RemoveSmartcardKey         RequestType = 21
	Lock                       RequestType = 22
	Unlock                     RequestType = 23
	AddIDConstrained           RequestType = 25
	AddSmartcardKeyConstrained RequestType = 26
	Extension                  RequestType = 27
)

var requestNames = map[RequestType]string{
	RequestIdentities:          "request_identities",
	SignRequest:                "sign_request",
	AddIdentity:                "add_identity",
	RemoveIdentity:             "remove_identity",
	RemoveAllIdentities:        "remove_all_identities",
	AddSmartcardKey:            "add_smartcard_key",
	RemoveSmartcardKey:         "remove_smartcard_key",
	Lock:                       "lock",
	Unlock:                     "unlock",
	AddIDConstrained:           "add_id_constrained",
	AddSmartcardKeyConstrained: "add_smartcard_key_constrained",
	Extension:                  "extension",
}

func (t RequestType) String() string {
	if name, ok := requestNames[t]; ok {
		return name
	}
	return "unknown"
}

func requestTypeFor(opcode byte) RequestType {
	t := RequestType(opcode)
	if _, ok := requestNames[t]; ok {
		return t
	}
	return Unknown
}

// ResponseType is the opcode of an agent response.
type ResponseType byte

// Response opcodes.
const (
	Failure          ResponseType = 5
	Success          ResponseType = 6
	IdentitiesAnswer ResponseType = 12
	SignResponse     ResponseType = 14
)

// Sign request flags.
const (
	SignatureFlagRSASHA256 uint32 = 2
	SignatureFlagRSASHA512 uint32 = 4
)
