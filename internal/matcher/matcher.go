package matcher

import (
	"sort"
	"sync/atomic"

	"github.com/andresmejia3/greeter/internal/types"
	"github.com/sirupsen/logrus"
)

// Matcher resolves an observed embedding to the best enrolled identity.
// It is safe for concurrent use; the gallery can be swapped at any time.
type Matcher struct {
	threshold float64
	gallery   atomic.Pointer[Gallery]
	logger    logrus.FieldLogger
}

// New creates a Matcher with an empty gallery.
func New(threshold float64, logger logrus.FieldLogger) *Matcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Matcher{threshold: threshold, logger: logger.WithField("component", "matcher")}
	m.gallery.Store(&Gallery{})
	return m
}

// Threshold returns the configured similarity threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Swap atomically replaces the gallery snapshot. In-flight calls finish on the old one.
func (m *Matcher) Swap(g *Gallery) {
	if g == nil {
		g = &Gallery{}
	}
	m.gallery.Store(g)
	m.logger.WithFields(logrus.Fields{
		"identities": g.Identities(),
		"samples":    g.Samples(),
	}).Info("gallery swapped")
}

// Gallery returns the current snapshot.
func (m *Matcher) Gallery() *Gallery {
	return m.gallery.Load()
}

type scored struct {
	entry *galleryEntry
	score float64
}

// score computes the per-identity best similarity, highest first.
func (m *Matcher) score(g *Gallery, vec []float32) ([]scored, error) {
	if err := types.ValidateEmbedding(vec); err != nil {
		return nil, err
	}
	if g.Empty() {
		return nil, nil
	}
	if len(vec) != g.dim {
		return nil, &ShapeError{Want: g.dim, Got: len(vec)}
	}
	q := normalize(vec)
	if q == nil {
		return nil, &types.InputError{Reason: "zero-norm embedding"}
	}

	out := make([]scored, 0, len(g.entries))
	for i := range g.entries {
		e := &g.entries[i]
		best := -1.0
		for _, ref := range e.refs {
			if s := dot(q, ref); s > best {
				best = s
			}
		}
		out = append(out, scored{entry: e, score: clampUnit(best)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out, nil
}

// Match returns the best identity whose similarity reaches the threshold.
// Equal top scores on two different identities resolve to unknown.
func (m *Matcher) Match(vec []float32) (types.Match, error) {
	scores, err := m.score(m.gallery.Load(), vec)
	if err != nil {
		return types.Match{}, err
	}
	if len(scores) == 0 {
		return types.Match{Name: types.UnknownName}, nil
	}

	best := scores[0]
	unknown := types.Match{Name: types.UnknownName, Score: best.score}
	if best.score < m.threshold {
		return unknown, nil
	}
	if len(scores) > 1 && scores[1].score == best.score {
		m.logger.WithFields(logrus.Fields{
			"a":     best.entry.name,
			"b":     scores[1].entry.name,
			"score": best.score,
		}).Debug("ambiguous match, reporting unknown")
		return unknown, nil
	}
	return types.Match{IdentityID: best.entry.id, Name: best.entry.name, Score: best.score}, nil
}

// TopK returns up to k identities at or above the threshold, best first.
func (m *Matcher) TopK(vec []float32, k int) ([]types.Match, error) {
	scores, err := m.score(m.gallery.Load(), vec)
	if err != nil {
		return nil, err
	}
	var out []types.Match
	for _, s := range scores {
		if len(out) >= k || s.score < m.threshold {
			break
		}
		out = append(out, types.Match{IdentityID: s.entry.id, Name: s.entry.name, Score: s.score})
	}
	return out, nil
}

// clampUnit maps cosine similarity onto [0,1]; opposite directions score 0.
func clampUnit(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
