package codec

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPool_GetPut(t *testing.T) {
	t.Parallel()

	// Get buffer from pool
	buf := GetBuffer()
	assert.NotNil(t, buf)

	// Use the buffer
	buf.WriteString("test data")
	assert.Equal(t, 9, buf.Len())

	// Put back to pool
	PutBuffer(buf)

	// Get again - should be reset
	buf2 := GetBuffer()
	assert.NotNil(t, buf2)
	assert.Equal(t, 0, buf2.Len())
}

func TestBufferPool_PutNil(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		PutBuffer(nil)
	})
}

func TestBufferPool_DropsOversized(t *testing.T) {
	t.Parallel()

	buf := GetBuffer()
	buf.Write(make([]byte, maxPooledBuffer+1))

	assert.NotPanics(t, func() {
		PutBuffer(buf)
	})
	// Oversized buffers are not reset because they never go back to the pool
	assert.Equal(t, maxPooledBuffer+1, buf.Len())
}

func TestBufferPool_Concurrency(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	iterations := 100

	for rangeIdx := 0; rangeIdx < iterations; rangeIdx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := GetBuffer()
			buf.WriteString("concurrent test")
			PutBuffer(buf)
		}()
	}

	wg.Wait()
}

func BenchmarkBufferPool_GetPut(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := GetBuffer()
			buf.WriteString("benchmark test data")
			PutBuffer(buf)
		}
	})
}

func BenchmarkEncode(b *testing.B) {
	msg := MustNewMessage("chat", map[string]string{"text": "hello"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Encode(msg)
	}
}
