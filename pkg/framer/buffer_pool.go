// Package framer provides the shared resources of the HTTP/1.x framing engine:
// a process-wide buffer pool handing out generation-stamped leases.
package framer

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Buffer size classes for optimal memory usage
// Sizes are powers of 2 for efficient allocation
const (
	BufferSize2KB  = 2 * 1024  // 2KB - chunk-size lines, small multipart headers
	BufferSize4KB  = 4 * 1024  // 4KB - scanner default
	BufferSize8KB  = 8 * 1024  // 8KB - request line limit
	BufferSize16KB = 16 * 1024 // 16KB - multipart header block
	BufferSize32KB = 32 * 1024 // 32KB - default spool threshold
	BufferSize64KB = 64 * 1024 // 64KB - largest pooled class

	// MaxPooledSize is the largest buffer served from a size class.
	// Larger requests are satisfied with a one-off allocation.
	MaxPooledSize = BufferSize64KB
)

var classSizes = [...]int{
	BufferSize2KB, BufferSize4KB, BufferSize8KB,
	BufferSize16KB, BufferSize32KB, BufferSize64KB,
}

// ErrLeaseReleased is returned when a lease is released more than once,
// or released after its block was handed to another owner.
var ErrLeaseReleased = errors.New("framer: buffer lease already released")

// block is a pooled buffer plus its ownership generation.
// The generation advances on every release, which invalidates stale leases.
type block struct {
	buf   []byte
	gen   atomic.Uint64
	class int // index into classSizes, -1 for unpooled blocks
}

// Lease is an ownership token for a rented buffer.
//
// A Lease is a small value; copying it does not duplicate ownership. Exactly one
// Release must happen per rent. Release on a stale token is detected and reported
// instead of returning the block to the pool twice.
type Lease struct {
	b    *block
	gen  uint64
	pool *BufferPool
	size int
}

// Bytes returns the leased buffer, sliced to the requested size.
// It returns nil once the lease has been released.
func (l Lease) Bytes() []byte {
	if l.b == nil || l.b.gen.Load() != l.gen {
		return nil
	}
	return l.b.buf[:l.size]
}

// Cap returns the capacity of the underlying block.
func (l Lease) Cap() int {
	if l.b == nil {
		return 0
	}
	return len(l.b.buf)
}

// Valid reports whether the lease still owns its block.
func (l Lease) Valid() bool {
	return l.b != nil && l.b.gen.Load() == l.gen
}

// Release returns the block to its pool.
// Allocation behavior: 0 allocs/op
func (l Lease) Release() error {
	if l.b == nil {
		return ErrLeaseReleased
	}
	if !l.b.gen.CompareAndSwap(l.gen, l.gen+1) {
		if l.pool != nil {
			l.pool.staleReleases.Add(1)
		}
		return ErrLeaseReleased
	}
	if l.pool != nil {
		l.pool.put(l.b)
	}
	return nil
}

// BufferPool provides size-specific buffer pooling with metrics tracking.
//
// Design:
// - Multiple size classes (2KB, 4KB, 8KB, 16KB, 32KB, 64KB)
// - Automatic size selection based on requested size
// - Leases instead of raw slices, so double release is detectable
// - Thread-safe with sync.Pool
type BufferPool struct {
	classes [len(classSizes)]*sizedBufferPool

	totalGets     atomic.Uint64
	totalPuts     atomic.Uint64
	oversized     atomic.Uint64
	staleReleases atomic.Uint64
}

// sizedBufferPool manages a single size class of buffers
type sizedBufferPool struct {
	size  int
	class int
	pool  sync.Pool

	gets      atomic.Uint64
	puts      atomic.Uint64
	misses    atomic.Uint64
	allocated atomic.Uint64
}

func newSizedBufferPool(class, size int) *sizedBufferPool {
	sbp := &sizedBufferPool{size: size, class: class}
	sbp.pool.New = func() interface{} {
		sbp.misses.Add(1)
		sbp.allocated.Add(uint64(size))
		return &block{buf: make([]byte, size), class: class}
	}
	return sbp
}

// NewBufferPool creates a new buffer pool with size-specific pools
func NewBufferPool() *BufferPool {
	bp := &BufferPool{}
	for i, size := range classSizes {
		bp.classes[i] = newSizedBufferPool(i, size)
	}
	return bp
}

// Rent leases a buffer of at least size bytes. Bytes() on the lease returns
// exactly size bytes.
//
// Example:
//
//	lease := pool.Rent(3000) // served from the 4KB class
//	defer lease.Release()
//
// Allocation behavior: 0 allocs/op on hit, 1 alloc/op on miss
func (bp *BufferPool) Rent(size int) Lease {
	if size < 0 {
		size = 0
	}
	bp.totalGets.Add(1)

	sbp := bp.classFor(size)
	if sbp == nil {
		bp.oversized.Add(1)
		b := &block{buf: make([]byte, size), class: -1}
		return Lease{b: b, gen: b.gen.Load(), pool: bp, size: size}
	}

	sbp.gets.Add(1)
	b := sbp.pool.Get().(*block)
	return Lease{b: b, gen: b.gen.Load(), pool: bp, size: size}
}

func (bp *BufferPool) classFor(size int) *sizedBufferPool {
	for _, sbp := range bp.classes {
		if size <= sbp.size {
			return sbp
		}
	}
	return nil
}

func (bp *BufferPool) put(b *block) {
	bp.totalPuts.Add(1)
	if b.class < 0 {
		return
	}
	sbp := bp.classes[b.class]
	sbp.puts.Add(1)
	sbp.pool.Put(b)
}

// Outstanding returns the number of leases rented and not yet released.
// A steady non-zero value after all requests completed indicates a leak.
func (bp *BufferPool) Outstanding() int64 {
	return int64(bp.totalGets.Load()) - int64(bp.totalPuts.Load())
}

// BufferPoolMetrics contains comprehensive pool statistics
type BufferPoolMetrics struct {
	Classes []SizedPoolMetrics

	TotalGets     uint64
	TotalPuts     uint64
	Outstanding   int64
	Oversized     uint64 // Rents above MaxPooledSize
	StaleReleases uint64 // Double releases that were rejected

	GlobalHitRate   float64 // Overall hit rate across all pools
	MemoryAllocated uint64  // Total bytes allocated by the size classes
}

// SizedPoolMetrics contains metrics for a single size class
type SizedPoolMetrics struct {
	Size      int
	Gets      uint64
	Puts      uint64
	Hits      uint64
	Misses    uint64
	HitRate   float64
	Allocated uint64
}

// GetMetrics returns comprehensive pool metrics
func (bp *BufferPool) GetMetrics() BufferPoolMetrics {
	m := BufferPoolMetrics{
		Classes:       make([]SizedPoolMetrics, 0, len(bp.classes)),
		TotalGets:     bp.totalGets.Load(),
		TotalPuts:     bp.totalPuts.Load(),
		Outstanding:   bp.Outstanding(),
		Oversized:     bp.oversized.Load(),
		StaleReleases: bp.staleReleases.Load(),
	}

	var hits, gets uint64
	for _, sbp := range bp.classes {
		sm := sbp.metrics()
		m.Classes = append(m.Classes, sm)
		hits += sm.Hits
		gets += sm.Gets
		m.MemoryAllocated += sm.Allocated
	}
	if gets > 0 {
		m.GlobalHitRate = float64(hits) / float64(gets) * 100.0
	}
	return m
}

func (sbp *sizedBufferPool) metrics() SizedPoolMetrics {
	gets := sbp.gets.Load()
	misses := sbp.misses.Load()

	// Compute hits as (gets - misses)
	// Since New() increments misses, hits = successful reuses from pool
	var hits uint64
	if gets >= misses {
		hits = gets - misses
	}
	var hitRate float64
	if gets > 0 {
		hitRate = float64(hits) / float64(gets) * 100.0
	}
	return SizedPoolMetrics{
		Size:      sbp.size,
		Gets:      gets,
		Puts:      sbp.puts.Load(),
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		Allocated: sbp.allocated.Load(),
	}
}

// ResetMetrics resets all metrics to zero
// Useful for benchmarking and testing
func (bp *BufferPool) ResetMetrics() {
	bp.totalGets.Store(0)
	bp.totalPuts.Store(0)
	bp.oversized.Store(0)
	bp.staleReleases.Store(0)
	for _, sbp := range bp.classes {
		sbp.gets.Store(0)
		sbp.puts.Store(0)
		sbp.misses.Store(0)
		sbp.allocated.Store(0)
	}
}

// Warmup pre-allocates buffers in all pools
func (bp *BufferPool) Warmup(count int) {
	for _, sbp := range bp.classes {
		blocks := make([]*block, count)
		for i := range blocks {
			blocks[i] = sbp.pool.New().(*block)
		}
		for _, b := range blocks {
			sbp.pool.Put(b)
		}
	}
}

// Global buffer pool instance
var globalBufferPool = NewBufferPool()

// DefaultPool returns the process-wide pool shared by scanners and spools.
func DefaultPool() *BufferPool {
	return globalBufferPool
}

// Rent leases a buffer from the global pool.
func Rent(size int) Lease {
	return globalBufferPool.Rent(size)
}

// GetBufferPoolMetrics returns metrics from the global pool
func GetBufferPoolMetrics() BufferPoolMetrics {
	return globalBufferPool.GetMetrics()
}
