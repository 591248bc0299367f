package common

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

// MaxFrame caps the declared payload length of any inbound frame.
// Larger frames fail the receive before any payload is read.
const MaxFrame = 2 * 1024 * 1024

// SendFrame writes a 4-byte big-endian length prefix followed by the
// payload. A nil or empty payload is a valid empty frame.
func SendFrame(conn net.Conn, payload []byte) error {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(payload)))
	if _, err := conn.Write(hdr); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := conn.Write(payload); err != nil {
		return errors.Wrap(err, "write frame payload")
	}
	return nil
}

// RecvFrame reads one frame, enforcing MaxFrame. An empty frame returns
// an empty (non-nil) slice.
func RecvFrame(conn net.Conn) ([]byte, error) {
	return RecvFrameLimit(conn, MaxFrame)
}

// RecvFrameLimit reads one frame whose declared length must not exceed
// limit. Used by the piece fetch path, where the limit is PieceSize.
func RecvFrameLimit(conn net.Conn, limit uint32) ([]byte, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, errors.Wrap(err, "read frame header")
	}
	n := binary.BigEndian.Uint32(hdr)
	if n > limit {
		return nil, errors.Errorf("frame of %d bytes exceeds limit %d", n, limit)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}
	return payload, nil
}

// SendText frames an ASCII command or reply.
func SendText(conn net.Conn, s string) error {
	return SendFrame(conn, []byte(s))
}

// RecvText reads one frame as a string.
func RecvText(conn net.Conn) (string, error) {
	b, err := RecvFrame(conn)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
