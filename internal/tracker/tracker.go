package tracker

import (
	"fmt"
	"sort"

	"github.com/andresmejia3/greeter/internal/types"
	"github.com/sirupsen/logrus"
)

// historyLen bounds the centroid trail kept per track.
const historyLen = 60

// Config holds the association and confirmation parameters.
type Config struct {
	MaxLinkDistance           float64 // pixels
	MaxFramesMissing          int
	ConsecutiveFramesRequired int
}

// IdentityMatcher resolves one embedding to an identity.
type IdentityMatcher interface {
	Match(vec []float32) (types.Match, error)
}

// Sider maps a centroid to a side of the door line.
type Sider interface {
	SideOf(p types.Point) types.Side
}

// Track is the hypothesized path of one physical face across frames.
type Track struct {
	ID        int64         `json:"id"`
	Centroid  types.Point   `json:"centroid"`
	BBox      types.BBox    `json:"bbox"`
	FirstSeen int           `json:"first_seen"`
	LastSeen  int           `json:"last_seen"`
	Missing   int           `json:"missing"`
	Streak    int           `json:"streak"`
	Candidate types.Match   `json:"candidate"` // label the current streak is counting
	Identity  types.Match   `json:"identity"`  // confirmed identity, zero until confirmed
	Confirmed bool          `json:"confirmed"`
	Side      types.Side    `json:"side"`
	History   []types.Point `json:"-"`
}

func (t *Track) clone() Track {
	c := *t
	c.History = append([]types.Point(nil), t.History...)
	return c
}

func (t *Track) moveTo(frameIndex int, d types.Detection) {
	t.Centroid = d.Center
	t.BBox = d.BBox
	t.LastSeen = frameIndex
	t.Missing = 0
	t.History = append(t.History, d.Center)
	if len(t.History) > historyLen {
		t.History = t.History[len(t.History)-historyLen:]
	}
}

// Confirmation reports a track adopting an identity (first time or a switch).
type Confirmation struct {
	Track    Track
	Previous types.Match
}

// Crossing reports a matched track changing door-line side.
type Crossing struct {
	Track Track
	From  types.Side
	To    types.Side
}

// Update is the outcome of one frame.
type Update struct {
	FrameIndex int
	Live       []Track
	Confirmed  []Confirmation
	Crossings  []Crossing
	Lost       []Track // confirmed tracks removed this frame
	Expired    int     // all tracks removed this frame, confirmed or not
	Rejected   []error
}

// Tracker owns the live track set. It is not safe for concurrent use;
// the pipeline calls it from a single goroutine.
type Tracker struct {
	cfg     Config
	matcher IdentityMatcher
	sider   Sider
	logger  logrus.FieldLogger
	tracks  []*Track // ordered by id
	nextID  int64
}

// New creates a Tracker. sider may be nil when door-line mode is off.
func New(cfg Config, m IdentityMatcher, sider Sider, logger logrus.FieldLogger) *Tracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tracker{
		cfg:     cfg,
		matcher: m,
		sider:   sider,
		logger:  logger.WithField("component", "tracker"),
		nextID:  1,
	}
}

type observation struct {
	det   types.Detection
	match types.Match
}

type pair struct {
	track int
	obs   int
	dist  float64
}

// Update associates this frame's detections with the live tracks.
func (tr *Tracker) Update(frameIndex int, detections []types.Detection) Update {
	upd := Update{FrameIndex: frameIndex}

	// 1. Validate and resolve identities; bad detections are dropped individually.
	obs := make([]observation, 0, len(detections))
	for i, d := range detections {
		if err := d.Validate(); err != nil {
			upd.Rejected = append(upd.Rejected, fmt.Errorf("detection %d: %w", i, err))
			continue
		}
		m, err := tr.matcher.Match(d.Embedding)
		if err != nil {
			upd.Rejected = append(upd.Rejected, fmt.Errorf("detection %d: %w", i, err))
			continue
		}
		obs = append(obs, observation{det: d, match: m})
	}

	// 2. Global greedy assignment, closest pairs first.
	var pairs []pair
	for ti, t := range tr.tracks {
		for oi, o := range obs {
			if d := t.Centroid.Dist(o.det.Center); d <= tr.cfg.MaxLinkDistance {
				pairs = append(pairs, pair{track: ti, obs: oi, dist: d})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		if pairs[i].track != pairs[j].track {
			return pairs[i].track < pairs[j].track
		}
		return pairs[i].obs < pairs[j].obs
	})

	usedTracks := make([]bool, len(tr.tracks))
	usedObs := make([]bool, len(obs))
	for _, p := range pairs {
		if usedTracks[p.track] || usedObs[p.obs] {
			continue
		}
		usedTracks[p.track] = true
		usedObs[p.obs] = true

		t := tr.tracks[p.track]
		t.moveTo(frameIndex, obs[p.obs].det)
		tr.observe(t, obs[p.obs].match, &upd)
		tr.updateSide(t, &upd)
	}

	// 3. Age and expire unmatched tracks.
	live := tr.tracks[:0]
	for i, t := range tr.tracks {
		if !usedTracks[i] {
			t.Missing++
			if t.Missing > tr.cfg.MaxFramesMissing {
				upd.Expired++
				if t.Confirmed {
					upd.Lost = append(upd.Lost, t.clone())
				}
				tr.logger.WithFields(logrus.Fields{
					"track":     t.ID,
					"identity":  t.Identity.Label(),
					"confirmed": t.Confirmed,
				}).Debug("track lost")
				continue
			}
		}
		live = append(live, t)
	}
	tr.tracks = live

	// 4. Spawn tracks for unassigned detections.
	for oi, o := range obs {
		if usedObs[oi] {
			continue
		}
		t := &Track{ID: tr.nextID, FirstSeen: frameIndex}
		tr.nextID++
		t.moveTo(frameIndex, o.det)
		tr.observe(t, o.match, &upd)
		tr.updateSide(t, &upd)
		tr.tracks = append(tr.tracks, t)
	}

	upd.Live = tr.Live()
	return upd
}

// observe extends or resets the identity streak and confirms when it is long enough.
func (tr *Tracker) observe(t *Track, m types.Match, upd *Update) {
	if t.Streak > 0 && t.Candidate.SameIdentity(m) {
		t.Streak++
	} else {
		t.Streak = 1
	}
	t.Candidate = m

	if !m.Known() {
		return
	}
	if t.Confirmed && t.Identity.SameIdentity(m) {
		t.Identity.Score = m.Score
		return
	}
	if t.Streak < tr.cfg.ConsecutiveFramesRequired {
		return
	}

	prev := t.Identity
	t.Identity = m
	t.Confirmed = true
	upd.Confirmed = append(upd.Confirmed, Confirmation{Track: t.clone(), Previous: prev})

	tr.logger.WithFields(logrus.Fields{
		"track":    t.ID,
		"identity": m.Name,
		"previous": prev.Label(),
		"streak":   t.Streak,
		"score":    m.Score,
	}).Debug("track confirmed")
}

func (tr *Tracker) updateSide(t *Track, upd *Update) {
	if tr.sider == nil {
		return
	}
	side := tr.sider.SideOf(t.Centroid)
	if t.Side != types.SideUnknown && side != t.Side {
		from := t.Side
		t.Side = side
		upd.Crossings = append(upd.Crossings, Crossing{Track: t.clone(), From: from, To: side})
		return
	}
	t.Side = side
}

// Live returns copies of the current tracks ordered by id.
func (tr *Tracker) Live() []Track {
	out := make([]Track, 0, len(tr.tracks))
	for _, t := range tr.tracks {
		out = append(out, t.clone())
	}
	return out
}

// Len returns the number of live tracks.
func (tr *Tracker) Len() int {
	return len(tr.tracks)
}
