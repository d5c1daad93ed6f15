package matcher

import (
	"fmt"
	"math"

	"github.com/andresmejia3/greeter/internal/types"
)

type galleryEntry struct {
	id   int
	name string
	refs [][]float64 // L2-normalized
}

// Gallery is an immutable snapshot of the enrolled identities.
// It is never modified after NewGallery returns; reloads build a new one.
type Gallery struct {
	entries []galleryEntry
	dim     int
	samples int
}

// NewGallery normalizes and validates a set of identities.
// Every reference embedding must share one dimensionality.
func NewGallery(identities []types.Identity) (*Gallery, error) {
	g := &Gallery{}
	seen := make(map[int]bool, len(identities))

	for _, ident := range identities {
		if ident.ID <= 0 {
			return nil, fmt.Errorf("identity %q has invalid id %d", ident.Name, ident.ID)
		}
		if seen[ident.ID] {
			return nil, fmt.Errorf("duplicate identity id %d", ident.ID)
		}
		seen[ident.ID] = true

		entry := galleryEntry{id: ident.ID, name: ident.Name}
		for _, ref := range ident.Embeddings {
			if err := types.ValidateEmbedding(ref); err != nil {
				return nil, fmt.Errorf("identity %d: %w", ident.ID, err)
			}
			if g.dim == 0 {
				g.dim = len(ref)
			} else if len(ref) != g.dim {
				return nil, &ShapeError{Want: g.dim, Got: len(ref)}
			}
			norm := normalize(ref)
			if norm == nil {
				continue // zero vector carries no direction
			}
			entry.refs = append(entry.refs, norm)
			g.samples++
		}
		if len(entry.refs) > 0 {
			g.entries = append(g.entries, entry)
		}
	}
	return g, nil
}

// Empty reports whether no identity can ever be matched.
func (g *Gallery) Empty() bool {
	return g == nil || len(g.entries) == 0
}

// Dim returns the embedding dimensionality, or 0 for an empty gallery.
func (g *Gallery) Dim() int {
	if g == nil {
		return 0
	}
	return g.dim
}

// Identities returns the number of matchable identities.
func (g *Gallery) Identities() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// Samples returns the total number of reference embeddings.
func (g *Gallery) Samples() int {
	if g == nil {
		return 0
	}
	return g.samples
}

func normalize(vec []float32) []float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil
	}
	n := math.Sqrt(sum)
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v) / n
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
