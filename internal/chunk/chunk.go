// Package chunk turns an unbounded input stream into fixed-size chunks for
// the upload pipeline (section 4.1 of the design).
package chunk

import "io"

// DefaultSize is the default chunk size: 5 MiB, S3's minimum part size.
const DefaultSize = 5 * 1024 * 1024

// Chunker reads fixed-size chunks from an underlying reader. The final
// chunk may be shorter than Size; all others are exactly Size bytes. Chunks
// are delivered in order with no gaps, and every byte of the input is
// delivered exactly once.
type Chunker struct {
	r    io.Reader
	size int
	pool *bufferPool

	buf      []byte
	scratch  []byte
	eof      bool
	finished bool
}

// New constructs a Chunker over r with the given chunk size. A size <= 0
// falls back to DefaultSize. Buffers handed out by GetChunk come from an
// internal pool; call Release once a chunk's upload has completed so its
// buffer can be reused for a later chunk instead of allocated fresh.
func New(r io.Reader, size int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	pool := newBufferPool(size)
	return &Chunker{
		r:       r,
		size:    size,
		pool:    pool,
		buf:     pool.get(),
		scratch: make([]byte, size),
	}
}

// Release returns a chunk previously returned by GetChunk to the internal
// buffer pool. Callers must not use buf again after calling Release.
func (c *Chunker) Release(buf []byte) {
	c.pool.put(buf)
}

// Finished reports whether GetChunk has returned nil after the input was
// exhausted. It stays false right after the final chunk is returned and
// becomes true on the next GetChunk call.
func (c *Chunker) Finished() bool {
	return c.finished
}

// GetChunk reads from the underlying reader until the internal buffer
// reaches Size or EOF is observed, then returns the buffered bytes. It
// tolerates short reads from r. It returns nil once Finished is true.
func (c *Chunker) GetChunk() ([]byte, error) {
	for !c.eof {
		want := c.size - len(c.buf)
		read := c.scratch[:want]
		n, err := c.r.Read(read)
		if n > 0 {
			c.buf = append(c.buf, read[:n]...)
		}
		switch {
		case err == io.EOF:
			c.eof = true
		case err != nil:
			return nil, err
		case n == 0:
			// A zero-length read with a nil error would spin forever;
			// treat it as EOF too so a malformed reader can't wedge the
			// pipeline.
			c.eof = true
		}
		if len(c.buf) == c.size || c.eof {
			break
		}
	}

	if len(c.buf) == 0 {
		c.finished = true
		return nil, nil
	}

	out := c.buf
	c.buf = c.pool.get()
	return out, nil
}
