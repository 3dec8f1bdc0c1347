package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	gulphttp "github.com/ligustah/gulp/internal/http"
	"github.com/ligustah/gulp/internal/staging"
)

// serveRanges answers HEAD with the resource size and ranged GETs with
// 206 partial content, the way a well-behaved origin does.
func serveRanges(w http.ResponseWriter, r *http.Request, data []byte) {
	size := int64(len(data))

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		return
	}

	rangeHeader := strings.TrimPrefix(r.Header.Get("Range"), "bytes=")
	parts := strings.Split(rangeHeader, "-")
	if len(parts) != 2 {
		http.Error(w, "bad range", http.StatusBadRequest)
		return
	}
	start, _ := strconv.ParseInt(parts[0], 10, 64)
	end, _ := strconv.ParseInt(parts[1], 10, 64)
	if end >= size {
		end = size - 1
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start : end+1])
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func memStore(t *testing.T) (*staging.Store, *blob.Bucket) {
	t.Helper()

	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })

	return staging.NewStore(bucket), bucket
}

func countObjects(t *testing.T, bucket *blob.Bucket) int {
	t.Helper()

	ctx := context.Background()
	iter := bucket.List(nil)
	count := 0
	for {
		_, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("list bucket: %v", err)
		}
		count++
	}
	return count
}

func TestDownloadBasic(t *testing.T) {
	data := testData(1024 * 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRanges(w, r, data)
	}))
	defer server.Close()

	store, bucket := memStore(t)

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{
		Workers:   4,
		ChunkSize: 256 * 1024,
		Staging:   store,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if !bytes.Equal(sink.Bytes(), data) {
		t.Fatal("output does not match resource bytes")
	}
	if n := countObjects(t, bucket); n != 0 {
		t.Errorf("expected staging to be empty after success, found %d objects", n)
	}
}

func TestDownloadOutOfOrderCompletion(t *testing.T) {
	// Three chunks; the first is delayed so later chunks finish before
	// it. Output order must still follow range order.
	data := testData(3 * 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.Header.Get("Range"), "bytes=0-") {
			time.Sleep(100 * time.Millisecond)
		}
		serveRanges(w, r, data)
	}))
	defer server.Close()

	store, _ := memStore(t)

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{
		Workers:   3,
		ChunkSize: 1024,
		Staging:   store,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if !bytes.Equal(sink.Bytes(), data) {
		t.Fatal("output bytes out of order")
	}
}

func TestDownloadZeroSize(t *testing.T) {
	var gets atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "0")
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		gets.Add(1)
		http.Error(w, "unexpected fetch", http.StatusInternalServerError)
	}))
	defer server.Close()

	store, _ := memStore(t)

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{Staging: store})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if sink.Len() != 0 {
		t.Errorf("expected empty output, got %d bytes", sink.Len())
	}
	if gets.Load() != 0 {
		t.Errorf("expected zero fetches for empty resource, got %d", gets.Load())
	}
}

func TestDownloadSizeUnknown(t *testing.T) {
	var gets atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		// HEAD answered 200 with no Content-Length.
	}))
	defer server.Close()

	store, _ := memStore(t)

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{Staging: store})
	if !errors.Is(err, ErrSizeUnknown) {
		t.Fatalf("expected ErrSizeUnknown, got %v", err)
	}

	if gets.Load() != 0 {
		t.Errorf("expected no fetch tasks after probe failure, got %d", gets.Load())
	}
	if sink.Len() != 0 {
		t.Errorf("expected empty output, got %d bytes", sink.Len())
	}
}

func TestDownloadRangeNotSupported(t *testing.T) {
	data := testData(4 * 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			return
		}
		// Full content regardless of the Range header.
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer server.Close()

	store, bucket := memStore(t)

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{
		Workers:   2,
		ChunkSize: 1024,
		Staging:   store,
	})
	if !errors.Is(err, ErrRangeNotSupported) {
		t.Fatalf("expected ErrRangeNotSupported, got %v", err)
	}

	if sink.Len() != 0 {
		t.Errorf("expected empty output after abort, got %d bytes", sink.Len())
	}
	if n := countObjects(t, bucket); n != 0 {
		t.Errorf("expected staging cleaned after abort, found %d objects", n)
	}
}

func TestDownloadFailFast(t *testing.T) {
	data := testData(8 * 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.Header.Get("Range"), "bytes=4096-") {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		serveRanges(w, r, data)
	}))
	defer server.Close()

	store, bucket := memStore(t)

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{
		Workers:   4,
		ChunkSize: 1024,
		Staging:   store,
	})

	var statusErr *gulphttp.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected code 503, got %d", statusErr.Code)
	}

	if sink.Len() != 0 {
		t.Errorf("expected nothing written to sink, got %d bytes", sink.Len())
	}
	if n := countObjects(t, bucket); n != 0 {
		t.Errorf("expected staging cleaned after abort, found %d objects", n)
	}
}

func TestDownloadConcurrencyBound(t *testing.T) {
	const maxWorkers = 3

	data := testData(12 * 4096)

	var current, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			defer current.Add(-1)
		}
		serveRanges(w, r, data)
	}))
	defer server.Close()

	store, _ := memStore(t)

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{
		Workers:   maxWorkers,
		ChunkSize: 4096,
		Staging:   store,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if p := peak.Load(); p > maxWorkers {
		t.Errorf("observed %d concurrent fetches, bound is %d", p, maxWorkers)
	}
	if !bytes.Equal(sink.Bytes(), data) {
		t.Fatal("output does not match resource bytes")
	}
}

func TestDownloadTruncatedChunk(t *testing.T) {
	data := testData(4 * 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.Header.Get("Range"), "bytes=2048-") {
			// Claim the requested range but deliver half of it.
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 2048-3071/%d", len(data)))
			w.Header().Set("Content-Length", "512")
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[2048 : 2048+512])
			return
		}
		serveRanges(w, r, data)
	}))
	defer server.Close()

	store, bucket := memStore(t)

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{
		Workers:   2,
		ChunkSize: 1024,
		Staging:   store,
	})

	var truncErr *TruncatedError
	if !errors.As(err, &truncErr) {
		t.Fatalf("expected TruncatedError, got %v", err)
	}
	if truncErr.Got != 512 {
		t.Errorf("expected 512 bytes reported, got %d", truncErr.Got)
	}
	if truncErr.Range.Start != 2048 {
		t.Errorf("expected failing range to start at 2048, got %d", truncErr.Range.Start)
	}

	if n := countObjects(t, bucket); n != 0 {
		t.Errorf("expected staging cleaned after abort, found %d objects", n)
	}
}

func TestDownloadTaskTimeout(t *testing.T) {
	data := testData(4 * 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.Header.Get("Range"), "bytes=1024-") {
			time.Sleep(300 * time.Millisecond)
		}
		serveRanges(w, r, data)
	}))
	defer server.Close()

	store, _ := memStore(t)

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{
		Workers:     4,
		ChunkSize:   1024,
		TaskTimeout: 75 * time.Millisecond,
		Staging:     store,
	})

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Range.Start != 1024 {
		t.Errorf("expected timed-out range to start at 1024, got %d", timeoutErr.Range.Start)
	}
	if sink.Len() != 0 {
		t.Errorf("expected nothing written to sink, got %d bytes", sink.Len())
	}
}

func TestDownloadCallerCancellation(t *testing.T) {
	data := testData(4 * 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			time.Sleep(300 * time.Millisecond)
		}
		serveRanges(w, r, data)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	store, _ := memStore(t)

	var sink bytes.Buffer
	err := Download(ctx, server.URL, &sink, Options{
		Workers:   2,
		ChunkSize: 1024,
		Staging:   store,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the caller's context error, got %v", err)
	}
	if sink.Len() != 0 {
		t.Errorf("expected nothing written to sink, got %d bytes", sink.Len())
	}
}

func TestDownloadDefaultStaging(t *testing.T) {
	data := testData(64 * 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRanges(w, r, data)
	}))
	defer server.Close()

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{
		Workers:   4,
		ChunkSize: 16 * 1024,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), data) {
		t.Fatal("output does not match resource bytes")
	}
}

// flushRecorder is a sink that records whether it was flushed.
type flushRecorder struct {
	bytes.Buffer
	flushed bool
}

func (f *flushRecorder) Flush() error {
	f.flushed = true
	return nil
}

func TestDownloadFlushesSink(t *testing.T) {
	data := testData(2 * 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRanges(w, r, data)
	}))
	defer server.Close()

	store, _ := memStore(t)

	var sink flushRecorder
	err := Download(context.Background(), server.URL, &sink, Options{
		ChunkSize: 1024,
		Staging:   store,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !sink.flushed {
		t.Error("expected sink to be flushed on completion")
	}
}

func TestDownloadFlushesEmptySink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "0")
			return
		}
		http.Error(w, "unexpected fetch", http.StatusInternalServerError)
	}))
	defer server.Close()

	var sink flushRecorder
	err := Download(context.Background(), server.URL, &sink, Options{})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !sink.flushed {
		t.Error("expected sink to be flushed for empty resource")
	}
}

func TestDownloadInvalidChunkSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
	}))
	defer server.Close()

	var sink bytes.Buffer
	err := Download(context.Background(), server.URL, &sink, Options{ChunkSize: -1})
	if !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize, got %v", err)
	}
}
