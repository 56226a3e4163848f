package agent

import (
	"encoding/binary"
	"fmt"

	"github.com/joncooperworks/secretagent/crypto/openssh"
)

// Request is a decoded agent request.
type Request struct {
	Type RequestType
	// Opcode is the raw opcode byte, kept for logging unknown requests.
	Opcode byte

	// Sign request fields.
	KeyBlob []byte
	Data    []byte
	Flags   uint32
}

// Parse decodes a transport frame, length header included. Unknown opcodes
// are not an error; they decode to a Request of type Unknown.
func Parse(frame []byte) (Request, error) {
	if len(frame) < 5 {
		return Request{}, fmt.Errorf("%w: frame of %d bytes", openssh.ErrTruncated, len(frame))
	}
	length := binary.BigEndian.Uint32(frame[:4])
	if length == 0 || uint64(length) > uint64(len(frame)-4) {
		return Request{}, fmt.Errorf("%w: declared %d bytes, have %d", openssh.ErrTruncated, length, len(frame)-4)
	}
	payload := frame[4 : 4+length]

	req := Request{Type: requestTypeFor(payload[0]), Opcode: payload[0]}
	if req.Type != SignRequest {
		return req, nil
	}

	r := openssh.NewReader(payload[1:])
	var err error
	if req.KeyBlob, err = r.ReadString(); err != nil {
		return Request{}, fmt.Errorf("key blob: %w", err)
	}
	if req.Data, err = r.ReadString(); err != nil {
		return Request{}, fmt.Errorf("data: %w", err)
	}
	if r.Len() > 0 {
		if req.Flags, err = r.ReadUint32(); err != nil {
			return Request{}, fmt.Errorf("flags: %w", err)
		}
	}
	return req, nil
}
