// Package pipeline runs the per-frame detect, match, track and greet pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/greeter/internal/doorline"
	"github.com/andresmejia3/greeter/internal/events"
	"github.com/andresmejia3/greeter/internal/tracker"
	"github.com/andresmejia3/greeter/internal/types"
	"github.com/sirupsen/logrus"
)

// Analyzer turns one encoded frame into detections.
type Analyzer interface {
	Analyze(ctx context.Context, frame []byte) (types.Observation, error)
}

// Dispatcher accepts utterances and drains them on Close.
type Dispatcher interface {
	Enqueue(job types.GreetingJob) error
	Close(ctx context.Context) error
}

// EventSink receives every emitted event. Record must not block.
type EventSink interface {
	Record(ev types.Event)
}

// LineConfig places the door line.
type LineConfig struct {
	Orientation doorline.Orientation
	Fraction    float64
	Inside      doorline.Direction
}

// Config wires the stages together.
type Config struct {
	Tracker      tracker.Config
	Events       events.Config
	Line         LineConfig    // used in door-line mode
	DrainTimeout time.Duration // bound on the shutdown speech drain; 0 waits until drained
}

// TrackView is the public shape of a track in a snapshot.
type TrackView struct {
	ID        int64         `json:"id"`
	Centroid  types.Point   `json:"centroid"`
	BBox      types.BBox    `json:"bbox"`
	Identity  string        `json:"identity"`
	Score     float64       `json:"score"`
	Confirmed bool          `json:"confirmed"`
	Streak    int           `json:"streak"`
	Missing   int           `json:"missing"`
	Side      string        `json:"side,omitempty"`
	Trail     []types.Point `json:"trail,omitempty"`
}

// Snapshot is the state after one frame.
type Snapshot struct {
	FrameIndex int           `json:"frame_index"`
	Timestamp  time.Time     `json:"timestamp"`
	Tracks     []TrackView   `json:"tracks"`
	Events     []types.Event `json:"events,omitempty"`
	Rejected   int           `json:"rejected"`
}

// Stats are running totals since start.
type Stats struct {
	Frames        int64 `json:"frames"`
	Rejected      int64 `json:"rejected"`
	AnalyzeErrors int64 `json:"analyze_errors"`
	Events        int64 `json:"events"`
}

// Pipeline owns the tracker and the event engine. ProcessFrame and Run must be
// driven from one goroutine; Latest and Stats are safe from anywhere.
type Pipeline struct {
	cfg        Config
	tracker    *tracker.Tracker
	engine     *events.Engine
	dispatcher Dispatcher
	sinks      []EventSink
	logger     logrus.FieldLogger
	line       *lineSider

	latest atomic.Pointer[Snapshot]

	frames        atomic.Int64
	rejected      atomic.Int64
	analyzeErrors atomic.Int64
	emitted       atomic.Int64

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a pipeline. clock may be nil.
func New(cfg Config, m tracker.IdentityMatcher, d Dispatcher, clock events.Clock, logger logrus.FieldLogger) (*Pipeline, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.DrainTimeout < 0 {
		return nil, fmt.Errorf("drain timeout must not be negative, got %v", cfg.DrainTimeout)
	}

	p := &Pipeline{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger.WithField("component", "pipeline"),
		engine:     events.New(cfg.Events, clock, logger),
	}

	var sider tracker.Sider
	if p.engine.Mode() == events.DoorLine {
		if err := doorline.Check(cfg.Line.Orientation, cfg.Line.Fraction, cfg.Line.Inside); err != nil {
			return nil, fmt.Errorf("door line: %w", err)
		}
		p.line = &lineSider{cfg: cfg.Line}
		sider = p.line
	}
	p.tracker = tracker.New(cfg.Tracker, m, sider, logger)
	return p, nil
}

// AddSink registers an event consumer. Call before the first frame.
func (p *Pipeline) AddSink(s EventSink) {
	p.sinks = append(p.sinks, s)
}

// SetFrameSize fixes the geometry the door line is computed from. The first
// call wins; later frames are assumed to share the size.
func (p *Pipeline) SetFrameSize(width, height int) error {
	if p.line == nil || p.line.ready() {
		return nil
	}
	l, err := doorline.New(p.cfg.Line.Orientation, p.cfg.Line.Fraction, p.cfg.Line.Inside, width, height)
	if err != nil {
		return err
	}
	p.line.set(l)
	p.logger.WithFields(logrus.Fields{
		"width":       width,
		"height":      height,
		"orientation": l.Orientation(),
		"position":    l.Position(),
	}).Info("door line placed")
	return nil
}

// ProcessObservation is ProcessFrame for an analyzer result.
func (p *Pipeline) ProcessObservation(frameIndex int, obs types.Observation) (*Snapshot, error) {
	if obs.Width > 0 && obs.Height > 0 {
		if err := p.SetFrameSize(obs.Width, obs.Height); err != nil {
			return nil, err
		}
	}
	return p.ProcessFrame(frameIndex, obs.Detections), nil
}

// ProcessFrame runs one sequential pass: match, track, emit events, publish.
func (p *Pipeline) ProcessFrame(frameIndex int, detections []types.Detection) *Snapshot {
	upd := p.tracker.Update(frameIndex, detections)
	p.frames.Add(1)

	for _, err := range upd.Rejected {
		p.rejected.Add(1)
		p.logger.WithError(err).WithField("frame", frameIndex).Debug("detection rejected")
	}

	var emitted []types.Event
	for _, c := range upd.Confirmed {
		if ev, ok := p.engine.OnTrackConfirmed(c); ok {
			emitted = append(emitted, ev)
		}
	}
	for _, c := range upd.Crossings {
		if ev, ok := p.engine.OnLineCrossed(c.Track, c.From, c.To); ok {
			emitted = append(emitted, ev)
		}
	}
	for _, t := range upd.Lost {
		if ev, ok := p.engine.OnTrackLost(t); ok {
			emitted = append(emitted, ev)
		}
	}
	p.deliver(emitted)

	snap := &Snapshot{
		FrameIndex: frameIndex,
		Timestamp:  time.Now(),
		Tracks:     views(upd.Live),
		Events:     emitted,
		Rejected:   len(upd.Rejected),
	}
	p.latest.Store(snap)
	return snap
}

func (p *Pipeline) deliver(evs []types.Event) {
	for _, ev := range evs {
		p.emitted.Add(1)
		if p.dispatcher != nil {
			if err := p.dispatcher.Enqueue(ev.Job()); err != nil {
				p.logger.WithError(err).WithField("event", ev.Kind).Warn("greeting not queued")
			}
		}
		for _, s := range p.sinks {
			s.Record(ev)
		}
	}
}

// Run admits frames until ctx is cancelled or the channel closes, then runs
// the shutdown sequence. Frames that fail analysis are skipped.
func (p *Pipeline) Run(ctx context.Context, frames <-chan types.FrameTask, a Analyzer) error {
	p.logger.Info("pipeline started")
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case task, ok := <-frames:
			if !ok {
				break loop
			}
			obs, err := a.Analyze(ctx, task.Data)
			if err != nil {
				if ctx.Err() != nil {
					break loop
				}
				p.analyzeErrors.Add(1)
				p.logger.WithError(err).WithField("frame", task.Index).Warn("frame analysis failed")
				continue
			}
			if _, err := p.ProcessObservation(task.Index, obs); err != nil {
				p.logger.WithError(err).WithField("frame", task.Index).Warn("frame skipped")
			}
		}
	}

	return p.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown says goodbye to everyone still confirmed, then drains speech.
// Admission must already have stopped. Only the first call does anything.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		live := p.tracker.Live()
		farewells := p.engine.Shutdown(live)
		p.logger.WithFields(logrus.Fields{
			"live_tracks": len(live),
			"farewells":   len(farewells),
		}).Info("shutting down")
		p.deliver(farewells)

		if p.dispatcher == nil {
			return
		}
		drainCtx := context.WithoutCancel(ctx)
		if p.cfg.DrainTimeout > 0 {
			var cancel context.CancelFunc
			drainCtx, cancel = context.WithTimeout(drainCtx, p.cfg.DrainTimeout)
			defer cancel()
		}
		if err := p.dispatcher.Close(drainCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.shutdownErr = fmt.Errorf("speech drain: %w", err)
		}
	})
	return p.shutdownErr
}

// Latest returns the most recent snapshot, or nil before the first frame.
func (p *Pipeline) Latest() *Snapshot {
	return p.latest.Load()
}

// Stats returns running totals.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:        p.frames.Load(),
		Rejected:      p.rejected.Load(),
		AnalyzeErrors: p.analyzeErrors.Load(),
		Events:        p.emitted.Load(),
	}
}

func views(tracks []tracker.Track) []TrackView {
	out := make([]TrackView, 0, len(tracks))
	for _, t := range tracks {
		v := TrackView{
			ID:        t.ID,
			Centroid:  t.Centroid,
			BBox:      t.BBox,
			Identity:  types.UnknownName,
			Confirmed: t.Confirmed,
			Streak:    t.Streak,
			Missing:   t.Missing,
			Trail:     t.History,
		}
		if t.Confirmed {
			v.Identity = t.Identity.Label()
			v.Score = t.Identity.Score
		}
		if t.Side != types.SideUnknown {
			v.Side = t.Side.String()
		}
		out = append(out, v)
	}
	return out
}

// lineSider reports SideUnknown until the frame size is known.
type lineSider struct {
	cfg  LineConfig
	line *doorline.Line
}

func (s *lineSider) ready() bool          { return s.line != nil }
func (s *lineSider) set(l *doorline.Line) { s.line = l }

func (s *lineSider) SideOf(pt types.Point) types.Side {
	if s.line == nil {
		return types.SideUnknown
	}
	return s.line.SideOf(pt)
}
