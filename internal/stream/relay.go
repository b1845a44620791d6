// Package stream relays object bytes from an upstream source (a local file
// or a peer's response body) to an HTTP client in fixed-size chunks, stopping
// quietly when the client goes away.
package stream

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
)

// ChunkSize is the flow-control granularity of the relay.
const ChunkSize = 32 * 1024

// ErrClientGone is returned when the consumer stopped accepting bytes, either
// because a write failed or because ctx was cancelled.
var ErrClientGone = errors.New("client disconnected")

// Copy forwards src to dst until src is exhausted, dst refuses a write, or
// ctx is done. Each chunk is flushed when dst supports http.Flusher so the
// client receives data as it arrives rather than when buffers fill.
//
// Copy never closes src; the caller owns the upstream and releases it once
// Copy returns, which is what stops the producer after a disconnect.
//
// The returned error is ErrClientGone for consumer-side termination, or the
// upstream read error wrapped otherwise. Bytes written so far are returned
// in every case.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	flusher, _ := dst.(http.Flusher)
	buf := make([]byte, ChunkSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, ErrClientGone
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			written += int64(w)
			if err != nil || w != n {
				return written, ErrClientGone
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			// A cancelled request context surfaces as a read error on
			// peer bodies; report it as the client going away.
			if ctx.Err() != nil {
				return written, ErrClientGone
			}
			return written, &UpstreamError{Err: readErr}
		}
	}
}

// UpstreamError reports a failure reading from the source mid-stream.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "upstream read: " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Size reports the length of src when it is backed by a file.
func Size(src io.Reader) (int64, bool) {
	f, ok := src.(interface{ Stat() (fs.FileInfo, error) })
	if !ok {
		return 0, false
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}
