package chunk

import "sync"

// bufferPool recycles fixed-size chunk buffers across GetChunk calls so a
// long-running upload doesn't allocate a new slice per chunk.
type bufferPool struct {
	pool sync.Pool
	size int
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		size: size,
		pool: sync.Pool{New: func() interface{} {
			return make([]byte, size)
		}},
	}
}

// get returns a zero-length, size-capacity buffer ready to be appended to.
func (bp *bufferPool) get() []byte {
	buf := bp.pool.Get().([]byte)
	return buf[:0]
}

// put returns buf to the pool once the caller is done with its contents
// (e.g. after the part upload that reads it has completed).
func (bp *bufferPool) put(buf []byte) {
	if cap(buf) != bp.size {
		return
	}
	bp.pool.Put(buf[:bp.size])
}
