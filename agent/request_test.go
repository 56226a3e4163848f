package agent

import (
	"bytes"
	"errors"
	"testing"

	"github.com/joncooperworks/secretagent/crypto/openssh"
)

func signRequestPayload(keyBlob, data []byte, flags ...uint32) []byte {
	payload := []byte{byte(SignRequest)}
	payload = openssh.AppendString(payload, keyBlob)
	payload = openssh.AppendString(payload, data)
	for _, f := range flags {
		payload = openssh.AppendUint32(payload, f)
	}
	return payload
}

func TestParse(t *testing.T) {
	withPartialFlags := append(signRequestPayload([]byte("key"), []byte("data")), 0, 4)

	tests := []struct {
		name      string
		frame     []byte
		wantType  RequestType
		wantOp    byte
		wantKey   []byte
		wantData  []byte
		wantFlags uint32
		wantErr   error
	}{
		{name: "identities", frame: mustDecode(t, requestIdentitiesB64), wantType: RequestIdentities, wantOp: 11},
		{name: "add identity", frame: mustDecode(t, addIdentityB64), wantType: AddIdentity, wantOp: 17},
		{name: "remove all", frame: openssh.LengthPrefixed([]byte{19}), wantType: RemoveAllIdentities, wantOp: 19},
		{name: "constrained smartcard", frame: openssh.LengthPrefixed([]byte{26, 1, 2}), wantType: AddSmartcardKeyConstrained, wantOp: 26},
		{name: "unknown", frame: openssh.LengthPrefixed([]byte{200}), wantType: Unknown, wantOp: 200},
		{name: "reserved 24", frame: openssh.LengthPrefixed([]byte{24}), wantType: Unknown, wantOp: 24},
		{
			name:     "sign without flags",
			frame:    openssh.LengthPrefixed(signRequestPayload([]byte("key"), []byte("data"))),
			wantType: SignRequest, wantOp: 13, wantKey: []byte("key"), wantData: []byte("data"),
		},
		{
			name:     "sign with flags",
			frame:    openssh.LengthPrefixed(signRequestPayload([]byte("key"), []byte{}, SignatureFlagRSASHA512)),
			wantType: SignRequest, wantOp: 13, wantKey: []byte("key"), wantData: []byte{}, wantFlags: 4,
		},
		{name: "empty", frame: nil, wantErr: openssh.ErrTruncated},
		{name: "header only", frame: []byte{0, 0, 0, 1}, wantErr: openssh.ErrTruncated},
		{name: "zero length", frame: []byte{0, 0, 0, 0, 11}, wantErr: openssh.ErrTruncated},
		{name: "declared too long", frame: []byte{0, 0, 0, 2, 11}, wantErr: openssh.ErrTruncated},
		{name: "sign missing data", frame: openssh.LengthPrefixed(openssh.AppendString([]byte{13}, []byte("key"))), wantErr: openssh.ErrTruncated},
		{name: "sign short key", frame: openssh.LengthPrefixed([]byte{13, 0, 0, 0, 9, 'k'}), wantErr: openssh.ErrTruncated},
		{name: "sign partial flags", frame: openssh.LengthPrefixed(withPartialFlags), wantErr: openssh.ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Parse(tt.frame)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if req.Type != tt.wantType || req.Opcode != tt.wantOp {
				t.Errorf("Parse() = %s/%d, want %s/%d", req.Type, req.Opcode, tt.wantType, tt.wantOp)
			}
			if !bytes.Equal(req.KeyBlob, tt.wantKey) || !bytes.Equal(req.Data, tt.wantData) || req.Flags != tt.wantFlags {
				t.Errorf("Parse() = %q/%q/%d, want %q/%q/%d", req.KeyBlob, req.Data, req.Flags, tt.wantKey, tt.wantData, tt.wantFlags)
			}
		})
	}
}

func TestParse_SignatureVector(t *testing.T) {
	req, err := Parse(mustDecode(t, requestSignatureB64))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if req.Type != SignRequest || len(req.KeyBlob) != 0x68 || len(req.Data) != 0xcf || req.Flags != 0 {
		t.Errorf("Parse() = %s key %d data %d flags %d", req.Type, len(req.KeyBlob), len(req.Data), req.Flags)
	}
	typ, _ := openssh.NewReader(req.KeyBlob).ReadString()
	if string(typ) != openssh.KeyAlgoECDSA256 {
		t.Errorf("key type = %q, want %q", typ, openssh.KeyAlgoECDSA256)
	}
}
