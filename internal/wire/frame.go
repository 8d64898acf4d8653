// Package wire implements the framing and message encodings shared by the
// data plane and the control plane.
//
// Every message travels as one frame: a 4-byte big-endian payload length
// followed by the payload. A payload starts with a kind byte; structured
// bodies are JSON, chunk and ack bodies are binary.
package wire

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame payload. Chunks are far smaller; the
// limit only protects against corrupt or hostile length prefixes.
const MaxFrameSize = 16 << 20

const headerSize = 4

var (
	// ErrProtocol marks a payload that could not be decoded.
	ErrProtocol = errors.New("protocol error")
	// ErrFrameTooLarge is returned for length prefixes above MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
)

// WriteFrame writes payload as a single frame using one Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. It returns io.EOF only when the stream ends
// cleanly before a frame starts.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Send encodes m and writes it as one frame.
func Send(w io.Writer, m encoding.BinaryMarshaler) error {
	payload, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// Receive reads one frame and decodes it into m. Decoding failures wrap
// ErrProtocol; transport failures are returned unchanged.
func Receive(r io.Reader, m encoding.BinaryUnmarshaler) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	return m.UnmarshalBinary(payload)
}

func protocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
