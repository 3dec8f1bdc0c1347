// Package http provides the HTTP capability for chunked downloads.
//
// This package handles:
//   - Connection pooling for high parallelism
//   - HEAD requests to probe resource size
//   - Range requests with strict partial-content validation
//   - Content-Range verification against the requested range
//
// Every call makes a single attempt. The download core is fail-fast by
// contract, so there is no retry policy at this layer.
//
// # Usage
//
//	client := http.NewClient(Options{
//	    MaxIdleConnsPerHost: 100,
//	})
//
//	// Probe resource size
//	info, err := client.Head(ctx, url)
//	// info.Size, info.ETag, info.AcceptsRanges
//
//	// Download a range
//	resp, err := client.GetRange(ctx, url, startByte, endByte)
//	defer resp.Body.Close()
package http
