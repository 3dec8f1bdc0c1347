// Package downloader fetches a single HTTP resource as parallel range
// chunks and reassembles it, in order, into a caller-supplied sink.
//
// The flow is probe, plan, dispatch, reassemble: a HEAD request discovers
// the total size, Plan splits it into byte ranges, a bounded worker pool
// fetches each range into private staging, and on full success the
// coordinator streams the staged chunks to the sink in ascending range
// order.
//
// Failure semantics are all-or-nothing: the first task to fail (bad
// status, unsupported range, truncated body, timeout) cancels every
// outstanding task, staged chunks are deleted, and that first error is
// the session's sole result. Nothing is ever written to the sink for a
// failed session. There are no retries.
//
// # Usage
//
//	err := downloader.Download(ctx, url, sink, downloader.Options{
//	    Workers:   20,
//	    ChunkSize: 1 << 20,
//	    Staging:   store,
//	})
package downloader
