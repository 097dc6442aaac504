package buffer

import (
	"bytes"
	"io"
	"sync"
)

// DefaultIOSize is the copy buffer size used for network and disk streams.
const DefaultIOSize = 8 * 1024

// maxPooledBody caps the capacity of body buffers returned to the pool.
const maxPooledBody = 4 * 1024 * 1024

// BytePool provides object pooling for byte slices to reduce GC pressure
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int
	mu    sync.RWMutex
}

// NewBytePool creates a new byte pool with predefined size buckets
func NewBytePool() *BytePool {
	sizes := []int{
		1024,   // 1KB
		4096,   // 4KB
		8192,   // 8KB
		16384,  // 16KB
		32768,  // 32KB
		65536,  // 64KB
		131072, // 128KB
	}

	pools := make(map[int]*sync.Pool)
	for _, size := range sizes {
		size := size
		pools[size] = &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
	}

	return &BytePool{
		pools: pools,
		sizes: sizes,
	}
}

// Get retrieves a byte slice of at least the specified size
func (p *BytePool) Get(size int) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			if pool, exists := p.pools[bucketSize]; exists {
				buf := pool.Get().([]byte)
				return buf[:size]
			}
		}
	}

	return make([]byte, size)
}

// Put returns a byte slice to the pool for reuse
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}

	capacity := cap(buf)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if pool, exists := p.pools[capacity]; exists {
		buf = buf[:capacity]
		// nolint:staticcheck // SA6002: sync.Pool.Put requires interface{}, slice allocation is expected
		pool.Put(buf)
	}
}

// Copy streams src into dst through a pooled buffer of the given size.
func (p *BytePool) Copy(dst io.Writer, src io.Reader, size int) (int64, error) {
	if size <= 0 {
		size = DefaultIOSize
	}
	buf := p.Get(size)
	defer p.Put(buf)
	return io.CopyBuffer(onlyWriter{dst}, onlyReader{src}, buf)
}

// onlyWriter and onlyReader hide ReaderFrom/WriterTo so CopyBuffer really
// uses the supplied buffer.
type onlyWriter struct{ io.Writer }

type onlyReader struct{ io.Reader }

var bodyPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// GetBody returns an empty buffer for accumulating a response body.
func GetBody() *bytes.Buffer {
	b := bodyPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// PutBody returns a body buffer. Oversized buffers are left to the GC.
func PutBody(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledBody {
		return
	}
	bodyPool.Put(b)
}

// Global pool instance
var defaultBytePool = NewBytePool()

// Copy streams src into dst with a buffer from the default pool.
func Copy(dst io.Writer, src io.Reader, size int) (int64, error) {
	return defaultBytePool.Copy(dst, src, size)
}
