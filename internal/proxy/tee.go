package proxy

import "bytes"

// boundedCapture keeps the first max bytes written through it and
// counts the rest. Write never fails and never shortens a write, so it
// is safe to put on the wire path as the side of an io.TeeReader.
type boundedCapture struct {
	max   int
	buf   bytes.Buffer
	total int64
}

func newBoundedCapture(max int) *boundedCapture {
	return &boundedCapture{max: max}
}

func (c *boundedCapture) Write(p []byte) (int, error) {
	c.total += int64(len(p))
	remaining := c.max - c.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		_, _ = c.buf.Write(p[:remaining])
		return len(p), nil
	}
	_, _ = c.buf.Write(p)
	return len(p), nil
}

// Bytes returns the captured prefix.
func (c *boundedCapture) Bytes() []byte { return c.buf.Bytes() }

// Len reports how many bytes were captured, after the cap.
func (c *boundedCapture) Len() int { return c.buf.Len() }

// Total reports how many bytes flowed through, before the cap.
func (c *boundedCapture) Total() int64 { return c.total }

// Truncated reports whether bytes past the cap were discarded.
func (c *boundedCapture) Truncated() bool { return c.total > int64(c.buf.Len()) }
