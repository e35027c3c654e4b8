// Package wire holds the fixed-layout binary codec shared by server and client.
//
// Every value on the wire is a plain fixed-size Go value encoded little-endian
// with no padding, so a message is fully described by the concatenation of its
// fields.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPacketSize bounds every datagram and every framed stream message.
const MaxPacketSize = 2048

var ErrShortBuffer = errors.New("wire: buffer too short")

type BoundsError struct {
	Offset int
	Need   int
	Have   int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("wire: need %d bytes at offset %d, have %d", e.Need, e.Offset, e.Have)
}

func (e *BoundsError) Unwrap() error {
	return ErrShortBuffer
}

var order = binary.LittleEndian

// SizeOf reports the encoded size of T. It panics for types without a fixed size.
func SizeOf[T any]() int {
	var v T
	n := binary.Size(v)
	if n < 0 {
		panic(fmt.Sprintf("wire: %T has no fixed size", v))
	}
	return n
}

// Append appends the encoding of v to buf.
func Append[T any](buf []byte, v T) []byte {
	out, err := binary.Append(buf, order, v)
	if err != nil {
		panic(fmt.Sprintf("wire: cannot encode %T: %v", v, err))
	}
	return out
}

// Extract decodes a T starting at offset.
func Extract[T any](buf []byte, offset int) (T, error) {
	var v T
	n := SizeOf[T]()
	if offset < 0 || len(buf)-offset < n {
		return v, &BoundsError{Offset: offset, Need: n, Have: max(len(buf)-offset, 0)}
	}
	if _, err := binary.Decode(buf[offset:offset+n], order, &v); err != nil {
		return v, err
	}
	return v, nil
}
