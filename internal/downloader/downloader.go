package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	gulphttp "github.com/ligustah/gulp/internal/http"
	"github.com/ligustah/gulp/internal/staging"
	_ "gocloud.dev/blob/memblob"
)

// Defaults applied by Download for zero Options fields. The CLI exposes
// these as its flag defaults.
const (
	DefaultWorkers     = 20
	DefaultChunkSize   = 1 << 20
	DefaultTaskTimeout = 20 * time.Second
	DefaultCancelGrace = 5 * time.Second
)

// cleanupTimeout bounds best-effort staging cleanup after an abort.
const cleanupTimeout = 10 * time.Second

// Options configures one download session. A session is transient: it
// exists for the duration of a single Download call and holds no state
// beyond it.
type Options struct {
	// Workers is the maximum number of chunks fetched concurrently.
	Workers int

	// ChunkSize is the size of each ranged request in bytes.
	ChunkSize int64

	// TaskTimeout bounds each individual chunk fetch. Exceeding it fails
	// the session exactly like any other chunk failure.
	TaskTimeout time.Duration

	// CancelGrace bounds how long an aborting session waits for
	// outstanding tasks to acknowledge cancellation before reporting the
	// originating error anyway.
	CancelGrace time.Duration

	// Staging holds fetched chunks until reassembly. When nil an
	// in-memory store is used; pass a file- or object-backed store for
	// downloads larger than memory.
	Staging *staging.Store

	// HTTP configures the HTTP client.
	HTTP gulphttp.Options
}

// taskState is the terminal state of one chunk fetch.
type taskState int

const (
	taskCompleted taskState = iota
	taskFailed
	taskCancelled
)

// result reports one task's terminal state to the coordinator.
type result struct {
	idx    int
	state  taskState
	staged bool
	err    error
}

// Download fetches url as parallel range chunks and writes the reassembled
// bytes to sink. On success the sink holds exactly the resource's bytes in
// order and has been flushed; on failure nothing has been written to the
// sink and exactly one error, the first observed, is returned. The sink is
// written only by this goroutine, never by workers.
//
// Download does not open or close the sink; if the sink implements
// Flush() error or Sync() error, those are called after the final byte.
func Download(ctx context.Context, url string, sink io.Writer, opts Options) error {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.TaskTimeout == 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = DefaultCancelGrace
	}

	client := gulphttp.NewClient(opts.HTTP)

	// Probe: a single metadata request, no retry. Any failure here aborts
	// before a task is dispatched.
	info, err := client.Head(ctx, url)
	if err != nil {
		return fmt.Errorf("probe size: %w", err)
	}
	if info.Size < 0 {
		return ErrSizeUnknown
	}

	ranges, err := Plan(info.Size, opts.ChunkSize)
	if err != nil {
		return err
	}
	if len(ranges) == 0 {
		return flushSink(sink)
	}

	store := opts.Staging
	if store == nil {
		st, err := staging.Open(ctx, "mem://")
		if err != nil {
			return fmt.Errorf("open staging: %w", err)
		}
		defer st.Close()
		store = st
	}

	staged, err := fetchAll(ctx, client, store, url, ranges, opts)
	if err == nil {
		err = reassemble(ctx, store, sink, ranges, staged)
	}
	if err != nil {
		cleanup(store, staged)
		return err
	}

	return nil
}

// fetchAll runs the bounded worker pool until every chunk is staged or the
// session aborts. It returns which chunk indices reached staging; on abort
// the returned error is the first failure observed, with later failures
// during the cascade discarded.
func fetchAll(ctx context.Context, client *gulphttp.Client, store *staging.Store, url string, ranges []Range, opts Options) ([]bool, error) {
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := opts.Workers
	if workers > len(ranges) {
		workers = len(ranges)
	}

	jobs := make(chan int)
	// Buffered to the task count so workers never block reporting, even
	// after the coordinator stops listening.
	results := make(chan result, len(ranges))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				err := fetchChunk(poolCtx, client, store, url, idx, ranges[idx], opts.TaskTimeout)
				r := result{idx: idx, err: err}
				switch {
				case err == nil:
					r.state = taskCompleted
					r.staged = true
				case isCancelSignal(err):
					r.state = taskCancelled
				default:
					r.state = taskFailed
				}
				results <- r
			}
		}()
	}

	// Feed jobs in range order. Submission order is range order; running
	// and completion order are whatever the pool produces. Only the final
	// reassembly order is guaranteed.
	go func() {
		defer close(jobs)
		for idx := range ranges {
			select {
			case jobs <- idx:
			case <-poolCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	staged := make([]bool, len(ranges))
	var firstErr error
	var graceC <-chan time.Time

collect:
	for {
		select {
		case r, ok := <-results:
			if !ok {
				break collect
			}
			if r.staged {
				staged[r.idx] = true
			}
			if r.state == taskFailed && firstErr == nil {
				// First failure: begin the abort cascade. Cancel every
				// task still pending or running and give them a bounded
				// grace period to acknowledge.
				firstErr = r.err
				cancel()
				timer := time.NewTimer(opts.CancelGrace)
				defer timer.Stop()
				graceC = timer.C
			}
		case <-graceC:
			// Grace expired with tasks still unacknowledged. Report the
			// original failure anyway; a straggler that fails after this
			// removes its own staging key, a straggler that completes
			// may leak one (tolerated).
			break collect
		}
	}

	if firstErr != nil {
		return staged, firstErr
	}
	// No task failed but the caller's context may have ended the session;
	// that is the only path on which a cancellation signal is the result.
	if err := ctx.Err(); err != nil {
		return staged, err
	}
	return staged, nil
}

// isCancelSignal reports whether a task error is the session's own
// cancellation (or the caller's deadline) rather than a task failure.
// Cancelled tasks must never trigger another abort cascade.
func isCancelSignal(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// reassemble streams staged chunks to the sink in ascending range order,
// releasing each chunk as soon as it has been consumed, then flushes the
// sink. Chunk completion order never influences output order.
func reassemble(ctx context.Context, store *staging.Store, sink io.Writer, ranges []Range, staged []bool) error {
	for idx, rng := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := chunkKey(idx)
		r, err := store.Open(ctx, key)
		if err != nil {
			return fmt.Errorf("reassemble chunk %d: %w", idx, err)
		}

		n, err := io.Copy(sink, r)
		r.Close()
		if err != nil {
			return fmt.Errorf("reassemble chunk %d: %w", idx, err)
		}
		if n != rng.Len() {
			return &TruncatedError{Range: rng, Got: n}
		}

		removeQuiet(store, key)
		staged[idx] = false
	}

	return flushSink(sink)
}

// cleanup deletes staged chunks after an aborted session, best effort.
func cleanup(store *staging.Store, staged []bool) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for idx, ok := range staged {
		if ok {
			store.Remove(ctx, chunkKey(idx))
		}
	}
}

// flushSink pushes buffered bytes down to the destination. Completion is
// signaled only after this returns.
func flushSink(sink io.Writer) error {
	if f, ok := sink.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}
	}
	if s, ok := sink.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("sync output: %w", err)
		}
	}
	return nil
}
