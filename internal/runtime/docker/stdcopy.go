package docker

import (
	"encoding/binary"
	"errors"
	"io"
)

// The engine multiplexes stdout and stderr on one connection when Tty is
// false. Each frame is an 8-byte header (stream type, three zero bytes, big
// endian payload size) followed by the payload.
const (
	streamStdout = 1
	streamStderr = 2
	headerSize   = 8
)

// capture accumulates one stream up to a byte limit, then discards the rest
// and records that it did.
type capture struct {
	buf       []byte
	limit     int
	truncated bool
}

func newCapture(limit int) *capture {
	return &capture{limit: limit}
}

func (c *capture) Write(p []byte) (int, error) {
	room := c.limit - len(c.buf)
	if room <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		c.buf = append(c.buf, p[:room]...)
		c.truncated = true
		return len(p), nil
	}
	c.buf = append(c.buf, p...)
	return len(p), nil
}

// demux splits a multiplexed stream into stdout and stderr writers. It
// returns nil on clean EOF.
func demux(r io.Reader, stdout, stderr io.Writer) error {
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		size := binary.BigEndian.Uint32(header[4:8])
		var dst io.Writer
		switch header[0] {
		case streamStdout:
			dst = stdout
		case streamStderr:
			dst = stderr
		default:
			dst = io.Discard
		}

		if _, err := io.CopyN(dst, r, int64(size)); err != nil {
			return err
		}
	}
}
