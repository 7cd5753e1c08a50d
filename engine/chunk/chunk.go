// Package chunk splits extracted document text into overlapping fixed-size
// windows, the unit of embedding and retrieval.
package chunk

import (
	"fmt"

	"github.com/lawgpt/lawgpt/engine/domain"
)

const (
	// DefaultSize is the window length in characters.
	DefaultSize = 800
	// DefaultOverlap is the number of characters shared by consecutive windows.
	DefaultOverlap = 100
)

// Window is one chunk of text and its character offset in the source.
type Window struct {
	Text   string
	Offset int
}

// Validate checks 0 < overlap < size.
func Validate(size, overlap int) error {
	if size <= 0 || overlap <= 0 || overlap >= size {
		return domain.NewValidationError("chunk", fmt.Sprintf("size=%d overlap=%d", size, overlap), domain.ErrInvalidChunkParams)
	}
	return nil
}

// Split slides a window of size characters over text, advancing by
// size-overlap each step and stopping once a window reaches the end.
// Offsets count runes, not bytes.
func Split(text string, size, overlap int) ([]Window, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	stride := size - overlap
	out := make([]Window, 0, Count(len(runes), size, overlap))
	for start := 0; ; start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, Window{Text: string(runes[start:end]), Offset: start})
		if end == len(runes) {
			break
		}
	}
	return out, nil
}

// Count returns how many windows Split emits for a text of n characters.
func Count(n, size, overlap int) int {
	switch {
	case n <= 0 || size <= 0 || overlap >= size:
		return 0
	case n <= size:
		return 1
	}
	stride := size - overlap
	return (n - overlap + stride - 1) / stride
}
