package spool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/framer/pkg/framer"
)

const testDir = "/spool"

type fixture struct {
	fs   afero.Fs
	pool *framer.BufferPool
	hook *logtest.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testDir, 0o755))
	return &fixture{fs: fs, pool: framer.NewBufferPool()}
}

func (f *fixture) options(threshold int) Options {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f.hook = hook
	return Options{
		MemoryThreshold: threshold,
		TempDir:         func() string { return testDir },
		Fs:              f.fs,
		Pool:            f.pool,
		Logger:          logger,
	}
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	infos, err := afero.ReadDir(f.fs, testDir)
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func TestSpoolRereadable(t *testing.T) {
	const threshold = 1024
	for _, size := range []int{0, 1, threshold - 1, threshold, threshold + 1, 10 * threshold} {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			f := newFixture(t)
			want := payload(size)
			s := New(iotest.HalfReader(bytes.NewReader(want)), f.options(threshold))

			first, err := io.ReadAll(s)
			require.NoError(t, err)
			assert.Equal(t, want, first)
			assert.True(t, s.Complete())

			_, err = s.Seek(0, io.SeekStart)
			require.NoError(t, err)
			second, err := io.ReadAll(s)
			require.NoError(t, err)
			assert.Equal(t, want, second)

			assert.Equal(t, size <= threshold, s.InMemory())
			require.NoError(t, s.Close())
			assert.Empty(t, f.files(t))
			assert.Equal(t, int64(0), f.pool.Outstanding())
		})
	}
}

func TestSpoolMovesToDiskOnce(t *testing.T) {
	const threshold = 64
	f := newFixture(t)
	want := payload(threshold + 1)
	s := New(iotest.OneByteReader(bytes.NewReader(want)), f.options(threshold))
	defer s.Close()

	buf := make([]byte, threshold)
	_, err := io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, InMemory, s.Mode())
	assert.Empty(t, f.files(t))
	assert.Equal(t, int64(1), f.pool.Outstanding())

	rest, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, want[threshold:], rest)
	assert.Equal(t, OnDisk, s.Mode())
	assert.Equal(t, int64(0), f.pool.Outstanding(), "lease released after the move")

	files := f.files(t)
	require.Len(t, files, 1)
	assert.Regexp(t, regexp.MustCompile(`^framer_[0-9a-f-]{36}\.tmp$`), files[0])
	assert.Equal(t, filepath.Join(testDir, files[0]), s.Path())

	onDisk, err := afero.ReadFile(f.fs, s.Path())
	require.NoError(t, err)
	assert.Equal(t, want, onDisk)

	_, err = s.Seek(0, io.SeekStart)
	require.NoError(t, err)
	all, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, want, all)

	entries := f.hook.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, logrus.DebugLevel, entries[0].Level)
	assert.Equal(t, s.Path(), entries[0].Data["path"])
	assert.Equal(t, int64(threshold), entries[0].Data["buffered"])

	path := s.Path()
	require.NoError(t, s.Close())
	exists, err := afero.Exists(f.fs, path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSpoolSeek(t *testing.T) {
	f := newFixture(t)
	s := New(strings.NewReader("0123456789"), f.options(4))
	defer s.Close()

	buf := make([]byte, 6)
	_, err := io.ReadFull(s, buf)
	require.NoError(t, err)

	_, err = s.Seek(0, io.SeekEnd)
	assert.ErrorIs(t, err, ErrNotFullyBuffered)
	_, err = s.Seek(7, io.SeekStart)
	assert.ErrorIs(t, err, ErrNotFullyBuffered)
	_, err = s.Seek(-7, io.SeekCurrent)
	assert.ErrorIs(t, err, ErrNegativePosition)
	_, err = s.Seek(0, 42)
	assert.Error(t, err)

	pos, err := s.Seek(-4, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)
	rest, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "23456789", string(rest))

	pos, err = s.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos)
	rest, err = io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "789", string(rest))

	// Past the end is allowed once complete and reads EOF.
	_, err = s.Seek(20, io.SeekStart)
	require.NoError(t, err)
	n, err := s.Read(buf)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
}

func TestSpoolWriteFails(t *testing.T) {
	s := New(strings.NewReader("x"), Options{})
	defer s.Close()
	n, err := s.Write([]byte("y"))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrNotWritable)
}

func TestSpoolBufferLimit(t *testing.T) {
	f := newFixture(t)
	opts := f.options(8)
	opts.BufferLimit = 16
	s := New(strings.NewReader(strings.Repeat("a", 17)), opts)

	_, err := io.ReadAll(s)
	require.ErrorIs(t, err, ErrBufferLimitExceeded)
	_, err = s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrBufferLimitExceeded, "errors are sticky")

	require.NoError(t, s.Close())
	assert.Empty(t, f.files(t))

	ok := New(strings.NewReader(strings.Repeat("a", 16)), opts)
	defer ok.Close()
	require.NoError(t, ok.BufferAll(context.Background()))
	assert.Equal(t, int64(16), ok.Len())
}

func TestSpoolBufferAll(t *testing.T) {
	f := newFixture(t)
	s := New(iotest.OneByteReader(strings.NewReader("hello, world")), f.options(4))
	defer s.Close()

	head := make([]byte, 5)
	_, err := io.ReadFull(s, head)
	require.NoError(t, err)

	require.NoError(t, s.BufferAll(context.Background()))
	assert.True(t, s.Complete())
	assert.Equal(t, int64(12), s.Len())
	assert.False(t, s.InMemory())

	rest, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, ", world", string(rest))

	end, err := s.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(12), end)
}

func TestSpoolBufferAllCancelled(t *testing.T) {
	s := New(strings.NewReader("data"), Options{})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.BufferAll(ctx), context.Canceled)
	assert.False(t, s.Complete())
}

func TestSpoolSourceError(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t)
	s := New(io.MultiReader(strings.NewReader("abc"), iotest.ErrReader(boom)), f.options(16))
	defer s.Close()

	got, err := io.ReadAll(s)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "abc", string(got))

	_, err = s.Seek(0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err, "buffered bytes stay readable")
	_, err = s.Read(buf)
	assert.ErrorIs(t, err, boom)
}

func TestSpoolLargeThresholdUsesGrowableBuffer(t *testing.T) {
	f := newFixture(t)
	threshold := framer.MaxPooledSize + 1
	want := payload(framer.MaxPooledSize / 2)
	s := New(bytes.NewReader(want), f.options(threshold))

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, s.InMemory())
	assert.Equal(t, int64(0), f.pool.Outstanding())
	require.NoError(t, s.Close())
}

func TestSpoolClose(t *testing.T) {
	f := newFixture(t)
	s := New(strings.NewReader(strings.Repeat("z", 100)), f.options(10))
	_, err := io.ReadAll(s)
	require.NoError(t, err)
	require.Len(t, f.files(t), 1)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Empty(t, f.files(t))

	_, err = s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.BufferAll(context.Background()), ErrClosed)
}

func BenchmarkSpoolInMemory(b *testing.B) {
	data := payload(16 * 1024)
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s := New(bytes.NewReader(data), Options{})
		io.Copy(io.Discard, s)
		s.Close()
	}
}
