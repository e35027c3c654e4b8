package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// WriteFrame writes packet preceded by its uvarint length in a single write.
func WriteFrame(w io.Writer, packet []byte) error {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(packet))
	buf = binary.AppendUvarint(buf, uint64(len(packet)))
	buf = append(buf, packet...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length prefixed frame. Frames longer than maxSize fail
// with ErrFrameTooLarge and leave the stream unusable.
func ReadFrame(r *bufio.Reader, maxSize int) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}

	packet := make([]byte, n)
	if _, err := io.ReadFull(r, packet); err != nil {
		return nil, err
	}
	return packet, nil
}
