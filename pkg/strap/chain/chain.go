// Package chain provides the scatter buffer used to assemble and fill frames
// without per-send copying: a linked list of byte spans walked one byte at a
// time by the transport.
package chain

// span is one contiguous run of bytes.
type span struct {
	data []byte
	next *span
}

// Chain is a linked list of byte spans. Appending shares the underlying
// slices; the chain never copies payload bytes.
type Chain struct {
	head, tail *span
	length     int
}

// New creates a chain over the given spans.
func New(spans ...[]byte) *Chain {
	c := &Chain{}
	for _, s := range spans {
		c.Append(s)
	}
	return c
}

// Append adds one span to the tail. Empty spans are skipped.
func (c *Chain) Append(data []byte) *Chain {
	if len(data) == 0 {
		return c
	}
	s := &span{data: data}
	if c.head == nil {
		c.head = s
	} else {
		c.tail.next = s
	}
	c.tail = s
	c.length += len(data)
	return c
}

// Extend appends all of o's spans, sharing their data. o is not modified.
func (c *Chain) Extend(o *Chain) *Chain {
	if o == nil {
		return c
	}
	for s := o.head; s != nil; s = s.next {
		c.Append(s.data)
	}
	return c
}

// Len is the total byte length across spans.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return c.length
}

// Bytes copies the chain out into one contiguous slice.
func (c *Chain) Bytes() []byte {
	if c == nil {
		return nil
	}
	out := make([]byte, 0, c.length)
	for s := c.head; s != nil; s = s.next {
		out = append(out, s.data...)
	}
	return out
}

// Cursor yields the chain's bytes in order.
func (c *Chain) Cursor() Cursor {
	if c == nil {
		return Cursor{}
	}
	return Cursor{span: c.head}
}

// Cursor walks a chain byte by byte across span boundaries.
type Cursor struct {
	span *span
	off  int
}

// Next returns the next byte; ok is false once the chain is exhausted.
func (cur *Cursor) Next() (b byte, ok bool) {
	for cur.span != nil {
		if cur.off < len(cur.span.data) {
			b = cur.span.data[cur.off]
			cur.off++
			return b, true
		}
		cur.span, cur.off = cur.span.next, 0
	}
	return 0, false
}

// Writer fills a chain's spans in place.
func (c *Chain) Writer() Writer {
	if c == nil {
		return Writer{}
	}
	return Writer{span: c.head}
}

// Writer stores bytes into a chain's existing spans in order.
type Writer struct {
	span *span
	off  int
}

// Put stores one byte; ok is false once capacity is exhausted.
func (w *Writer) Put(b byte) (ok bool) {
	for w.span != nil {
		if w.off < len(w.span.data) {
			w.span.data[w.off] = b
			w.off++
			return true
		}
		w.span, w.off = w.span.next, 0
	}
	return false
}
