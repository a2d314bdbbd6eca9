package form

import (
	"context"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/framer/pkg/framer"
	"github.com/yourusername/framer/pkg/framer/kv"
)

func TestReadForm(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []kv.Entry
	}{
		{
			name: "simple",
			body: "a=1&b=2",
			want: []kv.Entry{{Key: "a", Values: []string{"1"}}, {Key: "b", Values: []string{"2"}}},
		},
		{
			name: "repeated keys keep order",
			body: "x=1&y=2&X=3&x=4",
			want: []kv.Entry{{Key: "x", Values: []string{"1", "3", "4"}}, {Key: "y", Values: []string{"2"}}},
		},
		{
			name: "decoding",
			body: "first+name=J%C3%B6rg&q=a%26b%3Dc&sp=%20+",
			want: []kv.Entry{
				{Key: "first name", Values: []string{"Jörg"}},
				{Key: "q", Values: []string{"a&b=c"}},
				{Key: "sp", Values: []string{"  "}},
			},
		},
		{
			name: "empty segments and missing values",
			body: "&&flag&k=&=v&",
			want: []kv.Entry{
				{Key: "flag", Values: []string{""}},
				{Key: "k", Values: []string{""}},
				{Key: "", Values: []string{"v"}},
			},
		},
		{
			name: "equals inside value",
			body: "expr=a=b",
			want: []kv.Entry{{Key: "expr", Values: []string{"a=b"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadForm(context.Background(), iotest.OneByteReader(strings.NewReader(tt.body)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFormEmpty(t *testing.T) {
	got, err := ReadForm(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadPairStreaming(t *testing.T) {
	long := strings.Repeat("v", 10000)
	r := NewReader(strings.NewReader("a=" + long + "&b=2"))
	defer r.Close()

	ctx := context.Background()
	k, v, err := r.ReadPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", k)
	assert.Equal(t, long, v)

	k, v, err = r.ReadPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", k)
	assert.Equal(t, "2", v)

	_, _, err = r.ReadPair(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestReaderLimits(t *testing.T) {
	tests := []struct {
		name string
		body string
		opts Options
		ok   bool
	}{
		{"count at limit", "a=1&b=2&c=3", Options{ValueCountLimit: 3}, true},
		{"count over limit", "a=1&b=2&c=3&d=4", Options{ValueCountLimit: 3}, false},
		{"key at limit", "abcd=1", Options{KeyLengthLimit: 4}, true},
		{"key over limit", "abcde=1", Options{KeyLengthLimit: 4}, false},
		{"key without value over limit", "abcde", Options{KeyLengthLimit: 4}, false},
		{"value at limit", "k=1234", Options{ValueLengthLimit: 4}, true},
		{"value over limit", "k=12345", Options{ValueLengthLimit: 4}, false},
		{"limits use encoded length", "k=%41%41", Options{ValueLengthLimit: 4}, false},
		{"bad escape", "k=%zz", Options{}, false},
		{"bad key escape", "%=1", Options{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReaderOptions(strings.NewReader(tt.body), tt.opts)
			defer r.Close()

			_, err := r.ReadForm(context.Background())
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidData)
			_, _, again := r.ReadPair(context.Background())
			assert.ErrorIs(t, again, ErrInvalidData, "errors are sticky")
		})
	}
}

func TestReaderCancellation(t *testing.T) {
	r := NewReader(strings.NewReader("a=1"))
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := r.ReadPair(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	k, v, err := r.ReadPair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", k)
	assert.Equal(t, "1", v)
}

func TestReaderClose(t *testing.T) {
	pool := framer.NewBufferPool()
	r := NewReaderOptions(strings.NewReader("a=1"), Options{Pool: pool})
	assert.Equal(t, int64(1), pool.Outstanding())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, int64(0), pool.Outstanding())

	_, _, err := r.ReadPair(context.Background())
	assert.ErrorIs(t, err, ErrReaderClosed)
}

func BenchmarkReadForm(b *testing.B) {
	body := strings.Repeat("field=some+value&other=%41%42%43&", 64)
	b.SetBytes(int64(len(body)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ReadForm(context.Background(), strings.NewReader(body)); err != nil {
			b.Fatal(err)
		}
	}
}
