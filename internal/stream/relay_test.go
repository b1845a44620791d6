package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedWriter accepts limit bytes and then fails like a broken pipe.
type closedWriter struct {
	limit   int
	written int
}

func (c *closedWriter) Write(p []byte) (int, error) {
	if c.written >= c.limit {
		return 0, errors.New("write: broken pipe")
	}
	c.written += len(p)
	return len(p), nil
}

// countingReader records how many reads the relay issued.
type countingReader struct {
	r     io.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.r.Read(p)
}

func TestCopy(t *testing.T) {
	t.Run("copies everything and flushes", func(t *testing.T) {
		payload := bytes.Repeat([]byte("0123456789"), ChunkSize/5)
		rec := httptest.NewRecorder()

		n, err := Copy(context.Background(), rec, bytes.NewReader(payload))
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), n)
		assert.Equal(t, payload, rec.Body.Bytes())
		assert.True(t, rec.Flushed)
	})

	t.Run("empty source", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := Copy(context.Background(), &buf, strings.NewReader(""))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("stops reading after client disconnect", func(t *testing.T) {
		src := &countingReader{r: bytes.NewReader(bytes.Repeat([]byte("x"), ChunkSize*10))}
		dst := &closedWriter{limit: ChunkSize}

		n, err := Copy(context.Background(), dst, src)
		assert.ErrorIs(t, err, ErrClientGone)
		assert.Equal(t, int64(ChunkSize), n)
		// One chunk delivered, one chunk read but refused.
		assert.Equal(t, 2, src.reads)
	})

	t.Run("cancelled context stops before reading", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := &countingReader{r: strings.NewReader("data")}

		_, err := Copy(ctx, io.Discard, src)
		assert.ErrorIs(t, err, ErrClientGone)
		assert.Zero(t, src.reads)
	})

	t.Run("upstream failure is distinguished", func(t *testing.T) {
		src := io.MultiReader(strings.NewReader("abc"), iotestErrReader{errors.New("reset by peer")})
		var buf bytes.Buffer

		n, err := Copy(context.Background(), &buf, src)
		var upErr *UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.NotErrorIs(t, err, ErrClientGone)
		assert.Equal(t, int64(3), n)
		assert.Equal(t, "abc", buf.String())
	})
}

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }

func TestSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	size, ok := Size(f)
	assert.True(t, ok)
	assert.Equal(t, int64(5), size)

	_, ok = Size(strings.NewReader("12345"))
	assert.False(t, ok)
}
