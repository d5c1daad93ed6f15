package matcher

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/andresmejia3/greeter/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

// blend returns a unit vector with cosine similarity sim to axis a (rest on axis b).
func blend(dim, a, b int, sim float64) []float32 {
	v := make([]float32, dim)
	v[a] = float32(sim)
	v[b] = float32(math.Sqrt(1 - sim*sim))
	return v
}

func mustGallery(t *testing.T, ids ...types.Identity) *Gallery {
	t.Helper()
	g, err := NewGallery(ids)
	if err != nil {
		t.Fatalf("NewGallery: %v", err)
	}
	return g
}

func TestMatch(t *testing.T) {
	m := New(0.4, quietLogger())
	m.Swap(mustGallery(t,
		types.Identity{ID: 1, Name: "Alice", Embeddings: [][]float32{unit(4, 0)}},
		types.Identity{ID: 2, Name: "Bob", Embeddings: [][]float32{unit(4, 1), unit(4, 2)}},
	))

	tests := []struct {
		name     string
		vec      []float32
		wantID   int
		wantName string
	}{
		{"exact alice", unit(4, 0), 1, "Alice"},
		{"above threshold", blend(4, 0, 3, 0.6), 1, "Alice"},
		{"below threshold", blend(4, 0, 3, 0.3), types.Unknown, types.UnknownName},
		{"second bob sample", unit(4, 2), 2, "Bob"},
		{"orthogonal to everyone", unit(4, 3), types.Unknown, types.UnknownName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Match(tt.vec)
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if got.IdentityID != tt.wantID || got.Label() != tt.wantName {
				t.Errorf("Match() = %+v, want id %d (%s)", got, tt.wantID, tt.wantName)
			}
		})
	}
}

func TestMatchScoreIsMaxOverSamples(t *testing.T) {
	m := New(0.4, quietLogger())
	m.Swap(mustGallery(t,
		types.Identity{ID: 7, Name: "Carol", Embeddings: [][]float32{unit(3, 1), blend(3, 0, 1, 0.9)}},
	))

	got, err := m.Match(unit(3, 0))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got.Score-0.9) > 1e-6 {
		t.Errorf("expected score ~0.9 (best sample), got %f", got.Score)
	}
}

func TestMatchTieResolvesToUnknown(t *testing.T) {
	m := New(0.4, quietLogger())
	same := unit(4, 0)
	m.Swap(mustGallery(t,
		types.Identity{ID: 1, Name: "Bob", Embeddings: [][]float32{same}},
		types.Identity{ID: 2, Name: "Bobby", Embeddings: [][]float32{same}},
	))

	for i := 0; i < 2; i++ {
		got, err := m.Match(unit(4, 0))
		if err != nil {
			t.Fatal(err)
		}
		if got.Known() {
			t.Errorf("detection %d: expected unknown on tie, got %+v", i, got)
		}
	}
}

func TestMatchEmptyGallery(t *testing.T) {
	m := New(0.4, quietLogger())
	got, err := m.Match([]float32{1, 2, 3})
	if err != nil {
		t.Fatalf("empty gallery should not error, got %v", err)
	}
	if got.Known() {
		t.Errorf("expected unknown, got %+v", got)
	}
}

func TestMatchRejectsBadInput(t *testing.T) {
	m := New(0.4, quietLogger())
	m.Swap(mustGallery(t, types.Identity{ID: 1, Name: "Alice", Embeddings: [][]float32{unit(4, 0)}}))

	_, err := m.Match(unit(3, 0))
	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected ShapeError, got %v", err)
	}
	if shapeErr.Want != 4 || shapeErr.Got != 3 {
		t.Errorf("unexpected shape error %+v", shapeErr)
	}
	var inputErr *types.InputError
	if !errors.As(err, &inputErr) {
		t.Errorf("ShapeError should also be an InputError")
	}

	nan := unit(4, 0)
	nan[2] = float32(math.NaN())
	if _, err := m.Match(nan); !errors.As(err, &inputErr) {
		t.Errorf("expected InputError for NaN, got %v", err)
	}
	if _, err := m.Match(nil); !errors.As(err, &inputErr) {
		t.Errorf("expected InputError for empty vector, got %v", err)
	}
}

func TestNewGalleryValidation(t *testing.T) {
	tests := []struct {
		name string
		ids  []types.Identity
	}{
		{"zero id", []types.Identity{{ID: 0, Name: "x", Embeddings: [][]float32{unit(2, 0)}}}},
		{"duplicate id", []types.Identity{
			{ID: 1, Name: "x", Embeddings: [][]float32{unit(2, 0)}},
			{ID: 1, Name: "y", Embeddings: [][]float32{unit(2, 1)}},
		}},
		{"mixed dims", []types.Identity{
			{ID: 1, Name: "x", Embeddings: [][]float32{unit(2, 0)}},
			{ID: 2, Name: "y", Embeddings: [][]float32{unit(3, 1)}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGallery(tt.ids); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTopK(t *testing.T) {
	m := New(0.1, quietLogger())
	m.Swap(mustGallery(t,
		types.Identity{ID: 1, Name: "Alice", Embeddings: [][]float32{unit(3, 0)}},
		types.Identity{ID: 2, Name: "Bob", Embeddings: [][]float32{blend(3, 0, 1, 0.5)}},
		types.Identity{ID: 3, Name: "Carol", Embeddings: [][]float32{unit(3, 2)}},
	))

	got, err := m.TopK(unit(3, 0), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "Alice" || got[1].Name != "Bob" {
		t.Errorf("TopK() = %+v", got)
	}
}

type fakeSource struct {
	ids []types.Identity
	err error
}

func (f *fakeSource) AllIdentities(ctx context.Context) ([]types.Identity, error) {
	return f.ids, f.err
}

func TestReloaderKeepsSnapshotOnFailure(t *testing.T) {
	m := New(0.4, quietLogger())
	src := &fakeSource{ids: []types.Identity{{ID: 1, Name: "Alice", Embeddings: [][]float32{unit(2, 0)}}}}
	r := NewReloader(src, m)

	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	src.err = errors.New("connection refused")
	if err := r.Reload(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if m.Gallery().Identities() != 1 {
		t.Errorf("failed reload must keep the previous gallery")
	}

	src.err = nil
	src.ids = nil
	if err := r.Reload(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("empty source should report ErrStoreUnavailable, got %v", err)
	}
	got, _ := m.Match(unit(2, 0))
	if got.Known() {
		t.Errorf("empty gallery must match unknown")
	}
}

func TestConcurrentSwapAndMatch(t *testing.T) {
	m := New(0.4, quietLogger())
	a := mustGallery(t, types.Identity{ID: 1, Name: "Alice", Embeddings: [][]float32{unit(8, 0)}})
	b := mustGallery(t, types.Identity{ID: 2, Name: "Bob", Embeddings: [][]float32{unit(8, 0)}})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				m.Swap(a)
			} else {
				m.Swap(b)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			got, err := m.Match(unit(8, 0))
			if err != nil {
				t.Errorf("Match() error = %v", err)
				return
			}
			if got.Known() && got.Name != "Alice" && got.Name != "Bob" {
				t.Errorf("inconsistent snapshot: %+v", got)
				return
			}
		}
	}()
	wg.Wait()
}
