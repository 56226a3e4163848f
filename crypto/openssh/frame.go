// Package openssh implements the OpenSSH wire encodings the agent speaks:
// length-prefixed framing, public key blobs, fingerprints and signature blobs.
package openssh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds the payload of a single agent protocol frame.
const MaxFrameSize = 256 * 1024

// LengthPrefixed returns b preceded by its 4-byte big-endian length.
func LengthPrefixed(b []byte) []byte {
	return AppendString(make([]byte, 0, 4+len(b)), b)
}

// AppendString appends b to dst as an SSH string (uint32 length, then bytes).
func AppendString(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// AppendUint32 appends v to dst in big-endian order.
func AppendUint32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}

// ReadFrame reads one length-prefixed frame from r and returns its payload.
//
// It returns io.EOF if r is exhausted before the first header byte, and
// ErrTruncated if the stream ends inside the header or payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: frame header", ErrTruncated)
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrMalformedFrame, length, MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d payload bytes", ErrTruncated, length)
		}
		return nil, err
	}
	return payload, nil
}
