// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable byte buffers for the upload path. Chunk buffers are sized to
// the largest binary frame the reader accepts and recycled between
// sessions through ChunkPool.
package pool
