package proxy

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

const truncatedSuffix = "…[truncated]"

// capture keeps the first limit bytes written to it and notes whether more
// arrived. Writes never fail. A non-positive limit captures nothing.
type capture struct {
	mu        sync.Mutex
	limit     int
	buf       bytes.Buffer
	truncated bool
}

func newCapture(limit int) *capture {
	return &capture{limit: limit}
}

func (c *capture) Write(p []byte) (int, error) {
	if c.limit <= 0 {
		return len(p), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.limit - c.buf.Len()
	switch {
	case remaining <= 0:
		if len(p) > 0 {
			c.truncated = true
		}
	case len(p) > remaining:
		c.buf.Write(p[:remaining])
		c.truncated = true
	default:
		c.buf.Write(p)
	}
	return len(p), nil
}

// Value returns the captured text, or nil when nothing was captured.
func (c *capture) Value() *string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf.Len() == 0 && !c.truncated {
		return nil
	}
	s := strings.ToValidUTF8(c.buf.String(), "�")
	if c.truncated {
		s += truncatedSuffix
	}
	return &s
}

// teeReadCloser copies everything read from the body into a capture.
type teeReadCloser struct {
	io.ReadCloser
	capture *capture
}

func (t *teeReadCloser) Read(p []byte) (int, error) {
	n, err := t.ReadCloser.Read(p)
	if n > 0 {
		_, _ = t.capture.Write(p[:n])
	}
	return n, err
}
