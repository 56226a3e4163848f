package openssh

import (
	"encoding/binary"
	"fmt"
)

// Reader decodes SSH wire fields from a byte slice. Every read that would run
// past the end of the data fails with ErrTruncated and consumes nothing.
type Reader struct {
	data []byte
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{data: b}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.data)
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if len(r.data) < 1 {
		return 0, fmt.Errorf("%w: want 1 byte", ErrTruncated)
	}
	b := r.data[0]
	r.data = r.data[1:]
	return b, nil
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	if len(r.data) < 4 {
		return 0, fmt.Errorf("%w: want 4 bytes, have %d", ErrTruncated, len(r.data))
	}
	v := binary.BigEndian.Uint32(r.data)
	r.data = r.data[4:]
	return v, nil
}

// ReadString reads a length-prefixed string. The returned slice aliases the
// reader's data.
func (r *Reader) ReadString() ([]byte, error) {
	if len(r.data) < 4 {
		return nil, fmt.Errorf("%w: want length prefix, have %d bytes", ErrTruncated, len(r.data))
	}
	n := binary.BigEndian.Uint32(r.data)
	if uint64(n) > uint64(len(r.data)-4) {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrTruncated, n, len(r.data)-4)
	}
	s := r.data[4 : 4+n]
	r.data = r.data[4+n:]
	return s, nil
}
