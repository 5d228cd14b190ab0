package template

import (
	"errors"
	"fmt"
)

const (
	// PageSize is the fixed window the scanner partitions a capture into.
	PageSize = 256

	// Size is the length of a complete template: two data pages.
	Size = 2 * PageSize

	// DefaultPageThreshold is the minimum count of non-zero bytes for a
	// window to qualify as a data page. Observed captures need anywhere
	// from 40 to 150 depending on sensor firmware, so deployments tune it
	// through configuration rather than relying on this default.
	DefaultPageThreshold = 100
)

// ErrExtraction is the hard failure for a capture the heuristic cannot
// recover a full template from. No partial template is ever produced.
var ErrExtraction = errors.New("template extraction failed")

// Extract recovers a 512-byte template from a raw capture dump. The dump is
// scanned in consecutive 256-byte windows; a window whose non-zero byte
// count exceeds threshold is taken as a data page, and the first two pages
// concatenated form the template. Framing noise around the pages is ignored
// by construction, since noise windows are mostly zero.
func Extract(dump []byte, threshold int) ([]byte, error) {
	if threshold <= 0 {
		threshold = DefaultPageThreshold
	}

	var pages [][]byte
	for offset := 0; offset+PageSize <= len(dump) && len(pages) < 2; offset += PageSize {
		window := dump[offset : offset+PageSize]
		if countNonZero(window) > threshold {
			pages = append(pages, window)
		}
	}

	if len(pages) < 2 {
		return nil, fmt.Errorf("%w: found %d qualifying pages, need 2", ErrExtraction, len(pages))
	}

	out := make([]byte, 0, Size)
	out = append(out, pages[0]...)
	out = append(out, pages[1]...)
	if len(out) != Size {
		return nil, fmt.Errorf("%w: recovered %d bytes, want %d", ErrExtraction, len(out), Size)
	}
	return out, nil
}

func countNonZero(window []byte) int {
	n := 0
	for _, b := range window {
		if b != 0 {
			n++
		}
	}
	return n
}
