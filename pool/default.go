package pool

import "sync"

// MaxChunkSize is the largest binary frame the reader accepts.
const MaxChunkSize = 2048

var (
	defaultOnce  sync.Once
	defaultChunk *BytePool
)

// ChunkPool returns the process-wide pool of upload chunk buffers.
func ChunkPool() *BytePool {
	defaultOnce.Do(func() {
		defaultChunk = NewBytePool(MaxChunkSize)
	})
	return defaultChunk
}
