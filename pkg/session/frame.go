package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload a frame can carry.
const MaxFrameSize = 0xFFFF

// ErrFrameTooLarge is returned when writing a payload over MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes a u16 big-endian length followed by payload, in a single
// Write so message-oriented conns (websocket) get one message per frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[2:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. io.EOF is returned only on a clean boundary.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	payload := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
