package refstore

import (
	"sync"
	"sync/atomic"
)

// Size classes of pooled buffers. Keys fit into the smaller classes; values
// use whatever class covers the requested capacity. Bolt's maximum key size
// is 32768, so the largest key always fits the 64k class.
var bufferClassSizes = [...]int{32, 128, 1024, 8192, 65536}

const (
	uidBufCap      = UIDLength
	valueKeyBufCap = valueStoreKeyLength
	rangeKeyBufCap = rangeStoreKeyLength
	keyBufCap      = 128
)

// bufferPool hands out byte buffers for per-row key and value encoding.
// Every acquire must be paired with release; buffers are cleared on release
// and never retained past the scope that acquired them.
type bufferPool struct {
	classes [len(bufferClassSizes)]sync.Pool

	acquired    atomic.Uint64
	outstanding atomic.Int64
}

type pooledBuf struct {
	bytesBuilder
	pool     *bufferPool
	released bool
}

func newBufferPool() *bufferPool {
	p := &bufferPool{}
	for i, size := range bufferClassSizes {
		size := size
		p.classes[i].New = func() any {
			return &pooledBuf{bytesBuilder: bytesBuilder{Buf: make([]byte, 0, size)}}
		}
	}
	return p
}

func classFor(size int) int {
	for i, c := range bufferClassSizes {
		if size <= c {
			return i
		}
	}
	return -1
}

func (p *bufferPool) acquire(minCap int) *pooledBuf {
	p.acquired.Add(1)
	p.outstanding.Add(1)
	ci := classFor(minCap)
	if ci < 0 {
		return &pooledBuf{bytesBuilder: bytesBuilder{Buf: make([]byte, 0, minCap)}, pool: p}
	}
	b := p.classes[ci].Get().(*pooledBuf)
	b.pool = p
	b.released = false
	return b
}

// release clears the buffer and returns it to the pool. Safe to call twice.
func (b *pooledBuf) release() {
	if b == nil || b.released {
		return
	}
	b.released = true
	p := b.pool
	p.outstanding.Add(-1)

	clear(b.Buf[:cap(b.Buf)])
	b.Buf = b.Buf[:0]

	// a buffer that outgrew its class goes to the class of its new capacity
	ci := -1
	for i := len(bufferClassSizes) - 1; i >= 0; i-- {
		if cap(b.Buf) >= bufferClassSizes[i] {
			ci = i
			break
		}
	}
	if ci >= 0 && cap(b.Buf) <= 2*bufferClassSizes[len(bufferClassSizes)-1] {
		p.classes[ci].Put(b)
	}
}

func (b *pooledBuf) Bytes() []byte {
	return b.Buf
}

// Outstanding returns the number of buffers acquired and not yet released.
func (p *bufferPool) Outstanding() int64 {
	return p.outstanding.Load()
}
