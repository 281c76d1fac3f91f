package codec

import (
	"bytes"
	"sync"
)

// bufferPool reduces allocations when encoding envelopes
var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// maxPooledBuffer buffers grown beyond this are dropped instead of pooled
const maxPooledBuffer = 64 * 1024

// GetBuffer retrieves a bytes.Buffer from the pool
func GetBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

// PutBuffer returns a bytes.Buffer to the pool
// The buffer is reset but capacity is preserved
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}
