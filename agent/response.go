package agent

import (
	"github.com/joncooperworks/secretagent/crypto/openssh"
)

type identity struct {
	blob    []byte
	comment string
}

func failureResponse() []byte {
	return openssh.LengthPrefixed([]byte{byte(Failure)})
}

func identitiesAnswer(identities []identity) []byte {
	payload := []byte{byte(IdentitiesAnswer)}
	payload = openssh.AppendUint32(payload, uint32(len(identities)))
	for _, id := range identities {
		payload = openssh.AppendString(payload, id.blob)
		payload = openssh.AppendString(payload, []byte(id.comment))
	}
	return openssh.LengthPrefixed(payload)
}

func signResponse(signature []byte) []byte {
	payload := []byte{byte(SignResponse)}
	payload = openssh.AppendString(payload, signature)
	return openssh.LengthPrefixed(payload)
}
