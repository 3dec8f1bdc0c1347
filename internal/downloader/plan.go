package downloader

import "fmt"

// Range identifies one chunk of the resource as an inclusive byte range,
// matching HTTP Range header semantics. Start <= End always holds for
// ranges produced by Plan.
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes the range spans.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("bytes %d-%d", r.Start, r.End)
}

// Plan splits a resource of totalSize bytes into chunkSize-sized ranges.
// The returned ranges are contiguous, non-overlapping, ascending by Start,
// and cover exactly [0, totalSize-1]; the final range is clamped to the
// end of the resource. A totalSize of zero yields an empty plan: nothing
// to fetch, empty output. Plan is deterministic.
func Plan(totalSize, chunkSize int64) ([]Range, error) {
	if chunkSize < 1 {
		return nil, ErrInvalidChunkSize
	}
	if totalSize < 0 {
		return nil, ErrSizeUnknown
	}
	if totalSize == 0 {
		return nil, nil
	}

	ranges := make([]Range, 0, (totalSize+chunkSize-1)/chunkSize)
	for start := int64(0); start < totalSize; start += chunkSize {
		end := start + chunkSize - 1
		if end > totalSize-1 {
			end = totalSize - 1
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}

	return ranges, nil
}
