// Package staging provides transient storage for fetched chunks.
//
// A Store wraps a gocloud.dev blob bucket under a session-unique prefix.
// Each chunk is written to its own key, read back exactly once during
// reassembly, and removed as soon as it has been consumed. Removal is
// tolerant of missing keys so cleanup can run on every abort path without
// caring what a task managed to write before it stopped.
//
// # Usage
//
//	store, err := staging.Open(ctx, "file:///tmp/gulp-staging")
//	defer store.Close()
//
//	w, err := store.Create(ctx, "chunk-000001")
//	// write body, then w.Close()
//
//	r, err := store.Open(ctx, "chunk-000001")
//	// consume, then r.Close()
//
//	store.Remove(ctx, "chunk-000001")
package staging
