// Package protocol implements the wire protocol shared by the client
// transports: the length-prefixed frame codec of the proprietary TCP
// protocol, the command opcodes, the response envelope rules, and the
// MessagePack encoding of stream results.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/axionml/inferlink/errors"
)

// headerSize is the length prefix size: a four byte big-endian unsigned int.
const headerSize = 4

// maxFrameSize bounds a single frame payload. The server never emits
// frames anywhere near this; anything larger indicates a corrupt stream.
const maxFrameSize = 1 << 30

// WriteFrame writes a length-prefixed frame to w: the 4-byte big-endian
// payload length first, then the payload, as two writes on the same
// stream.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return errors.Wrap(err, errors.KindOperationFailed, "failed to write frame header")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, errors.KindOperationFailed, "failed to write frame payload")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. Both the header and
// the payload are read to completion. A clean EOF before any header byte
// is returned as io.EOF so callers can detect an orderly end of stream;
// an EOF in the middle of a frame is an operation failure.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, errors.KindOperationFailed, "failed to read frame header")
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return []byte{}, nil
	}
	if size > maxFrameSize {
		return nil, errors.Newf(errors.KindOperationFailed, "frame of %d bytes exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, errors.KindOperationFailed, "failed to read frame payload")
	}
	return payload, nil
}
