package http11

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultWriteBufferSize is the size of pooled response writers.
const DefaultWriteBufferSize = 4096

// countedPool is a sync.Pool that records how often it was used and how often
// Get had to construct a new object.
type countedPool struct {
	name   string
	pool   sync.Pool
	gets   atomic.Uint64
	puts   atomic.Uint64
	misses atomic.Uint64
}

func newCountedPool(name string, newFunc func() any) *countedPool {
	p := &countedPool{name: name}
	p.pool.New = func() any {
		p.misses.Add(1)
		return newFunc()
	}
	return p
}

func (p *countedPool) get() any {
	p.gets.Add(1)
	return p.pool.Get()
}

func (p *countedPool) put(x any) {
	p.puts.Add(1)
	p.pool.Put(x)
}

func (p *countedPool) stats() PoolStats {
	gets := p.gets.Load()
	misses := p.misses.Load()
	var hitRate float64
	if gets > 0 && misses <= gets {
		hitRate = float64(gets-misses) / float64(gets)
	}
	return PoolStats{Name: p.name, Gets: gets, Puts: p.puts.Load(), Misses: misses, HitRate: hitRate}
}

// Global pools for per-request objects
var (
	requestPool = newCountedPool("Request", func() any {
		return &Request{}
	})

	responseWriterPool = newCountedPool("ResponseWriter", func() any {
		return &ResponseWriter{}
	})

	bufioWriterPool = newCountedPool("BufioWriter", func() any {
		return bufio.NewWriterSize(nil, DefaultWriteBufferSize)
	})
)

// GetRequest retrieves a reset Request from the pool.
//
// IMPORTANT: You MUST call PutRequest when done to return it to the pool.
func GetRequest() *Request {
	req := requestPool.get().(*Request)
	req.Reset()
	return req
}

// PutRequest returns a Request to the pool. It is safe to call with nil.
// The Request must not be used afterwards.
func PutRequest(req *Request) {
	if req != nil {
		req.Reset()
		requestPool.put(req)
	}
}

// GetResponseWriter retrieves a ResponseWriter writing to w.
//
// IMPORTANT: You MUST call PutResponseWriter when done to return it to the pool.
func GetResponseWriter(w io.Writer) *ResponseWriter {
	rw := responseWriterPool.get().(*ResponseWriter)
	rw.Reset(w)
	return rw
}

// PutResponseWriter returns a ResponseWriter to the pool. It is safe to call
// with nil.
func PutResponseWriter(rw *ResponseWriter) {
	if rw != nil {
		rw.Reset(nil)
		responseWriterPool.put(rw)
	}
}

// GetBufioWriter retrieves a bufio.Writer configured with w.
func GetBufioWriter(w io.Writer) *bufio.Writer {
	bw := bufioWriterPool.get().(*bufio.Writer)
	bw.Reset(w)
	return bw
}

// PutBufioWriter flushes bw and returns it to the pool. It is safe to call
// with nil.
func PutBufioWriter(bw *bufio.Writer) {
	if bw != nil {
		_ = bw.Flush()
		bw.Reset(nil)
		bufioWriterPool.put(bw)
	}
}

// PoolStats describes one object pool.
type PoolStats struct {
	Name    string
	Gets    uint64
	Puts    uint64
	Misses  uint64 // Gets that had to allocate
	HitRate float64
}

// GetPoolStats returns statistics for the per-request object pools.
func GetPoolStats() []PoolStats {
	return []PoolStats{
		requestPool.stats(),
		responseWriterPool.stats(),
		bufioWriterPool.stats(),
	}
}

// WarmupPools pre-allocates count objects in every pool.
func WarmupPools(count int) {
	reqs := make([]*Request, count)
	rws := make([]*ResponseWriter, count)
	bws := make([]*bufio.Writer, count)
	for i := 0; i < count; i++ {
		reqs[i] = GetRequest()
		rws[i] = GetResponseWriter(nil)
		bws[i] = GetBufioWriter(nil)
	}
	for i := 0; i < count; i++ {
		PutRequest(reqs[i])
		PutResponseWriter(rws[i])
		PutBufioWriter(bws[i])
	}
}
