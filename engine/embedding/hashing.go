package embedding

import (
	"context"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Hashing is a local, deterministic Provider that feature-hashes lowercase
// words into a fixed number of buckets and L2-normalises the result.
// Identical texts always produce identical vectors.
type Hashing struct {
	dim int
}

// NewHashing creates a Hashing provider of the given dimension.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = 256
	}
	return &Hashing{dim: dim}
}

// Dimension returns the vector length.
func (h *Hashing) Dimension() int { return h.dim }

// Embed implements Provider.
func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `.,;:!?"'()[]{}`)
		if w == "" {
			continue
		}
		sum := xxhash.Sum64String(w)
		idx := int(sum % uint64(h.dim))
		// The top bit picks the sign so collisions tend to cancel.
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
