package http11

import (
	"io"
	"testing"
)

// TestRequestPool tests that pooled requests come back reset
func TestRequestPool(t *testing.T) {
	req := GetRequest()
	req.Target = "/x"
	req.ContentLength = 10
	req.Chunked = true
	req.Close = true
	PutRequest(req)

	req = GetRequest()
	defer PutRequest(req)
	if req.Target != "" || req.Chunked || req.Close {
		t.Errorf("request not reset: %+v", req)
	}
	if req.ContentLength != -1 {
		t.Errorf("ContentLength = %d, want -1", req.ContentLength)
	}
	if req.Body != NoBody {
		t.Errorf("Body = %v, want NoBody", req.Body)
	}
}

// TestPutNil tests that returning nil objects is a no-op
func TestPutNil(t *testing.T) {
	PutRequest(nil)
	PutResponseWriter(nil)
	PutBufioWriter(nil)
}

// TestPoolStats tests that pool counters move
func TestPoolStats(t *testing.T) {
	before := GetPoolStats()
	WarmupPools(4)
	bw := GetBufioWriter(io.Discard)
	PutBufioWriter(bw)
	after := GetPoolStats()

	if len(after) != 3 {
		t.Fatalf("got %d pools, want 3", len(after))
	}
	for i := range after {
		if after[i].Gets < before[i].Gets+4 {
			t.Errorf("%s: gets %d -> %d", after[i].Name, before[i].Gets, after[i].Gets)
		}
		if after[i].HitRate < 0 || after[i].HitRate > 1 {
			t.Errorf("%s: hit rate %f out of range", after[i].Name, after[i].HitRate)
		}
	}
}

// BenchmarkRequestPool benchmarks request get/put
func BenchmarkRequestPool(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		PutRequest(GetRequest())
	}
}
