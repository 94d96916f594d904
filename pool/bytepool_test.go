// File: pool/bytepool_test.go
// Package pool_test: chunk buffer pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool_test

import (
	"testing"

	"github.com/momentics/crosspoint-ws/pool"
)

func TestBytePoolSize(t *testing.T) {
	p := pool.NewBytePool(2048)
	buf := p.GetBuffer()
	if len(buf) != 2048 {
		t.Fatalf("len %d", len(buf))
	}
	p.PutBuffer(buf[:10])
	if got := p.GetBuffer(); len(got) != 2048 {
		t.Errorf("reused buffer len %d", len(got))
	}
}

func TestBytePoolDropsSmallBuffers(t *testing.T) {
	p := pool.NewBytePool(64)
	p.PutBuffer(make([]byte, 8))
	if got := p.GetBuffer(); len(got) != 64 {
		t.Errorf("len %d", len(got))
	}
}
