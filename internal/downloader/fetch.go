package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gulphttp "github.com/ligustah/gulp/internal/http"
	"github.com/ligustah/gulp/internal/staging"
)

// chunkKey returns the staging key for a chunk index.
func chunkKey(idx int) string {
	return fmt.Sprintf("chunk-%06d", idx)
}

// fetchChunk downloads one range into its staging key. The whole body is
// persisted before fetchChunk returns nil; on any failure it removes its
// own staging key best-effort and reports a classified error. A cancelled
// session surfaces as the parent context's error, never as a failure.
func fetchChunk(parent context.Context, client *gulphttp.Client, store *staging.Store, url string, idx int, rng Range, timeout time.Duration) error {
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	resp, err := client.GetRange(ctx, url, rng.Start, rng.End)
	if err != nil {
		return taskError(parent, err, rng, timeout)
	}
	defer resp.Body.Close()

	key := chunkKey(idx)
	w, err := store.Create(ctx, key)
	if err != nil {
		return taskError(parent, err, rng, timeout)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		w.Close()
		removeQuiet(store, key)
		return taskError(parent, err, rng, timeout)
	}
	if err := w.Close(); err != nil {
		removeQuiet(store, key)
		return taskError(parent, err, rng, timeout)
	}

	if n != rng.Len() {
		removeQuiet(store, key)
		return &TruncatedError{Range: rng, Got: n}
	}

	return nil
}

// taskError classifies a mid-task failure. If the session context is
// already dead the task was cancelled from outside: pass that signal
// through untouched so the coordinator does not mistake it for a failure.
// A deadline hit on the task's own context is this task's timeout.
func taskError(parent context.Context, err error, rng Range, timeout time.Duration) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Range: rng, Timeout: timeout}
	}
	return err
}

// removeQuiet deletes a staging key on a failure path. The task's own
// context is usually dead by now, so use a fresh bounded one; a leaked
// artifact is acceptable, a hang is not.
func removeQuiet(store *staging.Store, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store.Remove(ctx, key)
}
