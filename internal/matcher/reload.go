package matcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/greeter/internal/types"
)

// Source is anything that can list the enrolled identities.
type Source interface {
	AllIdentities(ctx context.Context) ([]types.Identity, error)
}

// Reloader rebuilds the matcher gallery from a Source.
// Concurrent Reload calls are serialized; a failed reload keeps the previous snapshot.
type Reloader struct {
	mu      sync.Mutex
	source  Source
	matcher *Matcher
}

func NewReloader(source Source, m *Matcher) *Reloader {
	return &Reloader{source: source, matcher: m}
}

// Reload fetches all identities and swaps them in.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identities, err := r.source.AllIdentities(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	g, err := NewGallery(identities)
	if err != nil {
		return fmt.Errorf("failed to build gallery: %w", err)
	}
	r.matcher.Swap(g)
	if g.Empty() {
		return fmt.Errorf("%w: no enrolled identities", ErrStoreUnavailable)
	}
	return nil
}
