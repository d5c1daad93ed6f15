// Package events turns track transitions into ENTRY and EXIT greetings.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/greeter/internal/tracker"
	"github.com/andresmejia3/greeter/internal/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Mode selects what counts as arriving and leaving.
type Mode string

const (
	// Presence greets on confirmation and says goodbye when the track is lost.
	Presence Mode = "presence"
	// DoorLine greets and says goodbye on door-line crossings only.
	DoorLine Mode = "door_line"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Presence, DoorLine:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want presence or door_line)", s)
}

// Default greeting templates; {name} is replaced with the identity name.
const (
	DefaultEntryTemplate = "Hey {name}, welcome!"
	DefaultExitTemplate  = "Bye {name}, see you later!"
)

// Config controls event generation.
type Config struct {
	Mode          Mode
	Cooldown      time.Duration
	EntryTemplate string
	ExitTemplate  string
}

// Clock returns the current time. time.Now carries a monotonic reading,
// so cooldown arithmetic is immune to wall clock jumps.
type Clock func() time.Time

type cooldownKey struct {
	identity int
	kind     types.EventKind
}

// Engine is the greeting state machine. It owns its cooldown table, so
// several engines can run side by side without sharing state.
// Not safe for concurrent use; the pipeline goroutine is its only caller.
type Engine struct {
	cfg      Config
	now      Clock
	logger   logrus.FieldLogger
	last     map[cooldownKey]time.Time
	shutdown bool
}

// New creates an engine. A nil clock means time.Now.
func New(cfg Config, now Clock, logger logrus.FieldLogger) *Engine {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Mode == "" {
		cfg.Mode = Presence
	}
	if cfg.EntryTemplate == "" {
		cfg.EntryTemplate = DefaultEntryTemplate
	}
	if cfg.ExitTemplate == "" {
		cfg.ExitTemplate = DefaultExitTemplate
	}
	return &Engine{
		cfg:    cfg,
		now:    now,
		logger: logger.WithField("component", "events"),
		last:   make(map[cooldownKey]time.Time),
	}
}

// Mode returns the configured mode.
func (e *Engine) Mode() Mode { return e.cfg.Mode }

// OnTrackConfirmed handles a track adopting an identity. In presence mode the
// first confirmation of an identity on a track is a greeting.
func (e *Engine) OnTrackConfirmed(c tracker.Confirmation) (types.Event, bool) {
	if e.cfg.Mode != Presence || !c.Track.Identity.Known() {
		return types.Event{}, false
	}
	return e.emit(types.Entry, c.Track, false)
}

// OnTrackLost handles removal of a confirmed track.
func (e *Engine) OnTrackLost(t tracker.Track) (types.Event, bool) {
	if e.cfg.Mode != Presence || !t.Confirmed || !t.Identity.Known() {
		return types.Event{}, false
	}
	return e.emit(types.Exit, t, false)
}

// OnLineCrossed handles a door-line side change.
func (e *Engine) OnLineCrossed(t tracker.Track, from, to types.Side) (types.Event, bool) {
	if e.cfg.Mode != DoorLine || !t.Confirmed || !t.Identity.Known() {
		return types.Event{}, false
	}
	switch {
	case from == types.Outside && to == types.Inside:
		return e.emit(types.Entry, t, false)
	case from == types.Inside && to == types.Outside:
		return e.emit(types.Exit, t, false)
	}
	return types.Event{}, false
}

// Shutdown says goodbye to every identity still confirmed in live, ignoring
// cooldowns. Each identity is farewelled once even if several tracks carry it.
// Calling Shutdown again returns nothing.
func (e *Engine) Shutdown(live []tracker.Track) []types.Event {
	if e.shutdown {
		return nil
	}
	e.shutdown = true

	seen := make(map[int]bool)
	var out []types.Event
	for _, t := range live {
		if !t.Confirmed || !t.Identity.Known() || seen[t.Identity.IdentityID] {
			continue
		}
		seen[t.Identity.IdentityID] = true
		if ev, ok := e.emit(types.Exit, t, true); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Closed reports whether Shutdown has run.
func (e *Engine) Closed() bool { return e.shutdown }

func (e *Engine) emit(kind types.EventKind, t tracker.Track, forced bool) (types.Event, bool) {
	now := e.now()
	key := cooldownKey{identity: t.Identity.IdentityID, kind: kind}
	log := e.logger.WithFields(logrus.Fields{
		"kind":     kind,
		"identity": t.Identity.Name,
		"track":    t.ID,
	})

	if last, ok := e.last[key]; ok && !forced {
		if since := now.Sub(last); since < e.cfg.Cooldown {
			log.WithField("remaining", e.cfg.Cooldown-since).Debug("suppressed by cooldown")
			return types.Event{}, false
		}
	}
	e.last[key] = now

	ev := types.Event{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Kind:       kind,
		IdentityID: t.Identity.IdentityID,
		Name:       t.Identity.Name,
		TrackID:    t.ID,
		Score:      t.Identity.Score,
		Forced:     forced,
		Text:       e.render(kind, t.Identity.Name),
	}
	log.WithField("forced", forced).Info("event emitted")
	return ev, true
}

func (e *Engine) render(kind types.EventKind, name string) string {
	tpl := e.cfg.EntryTemplate
	if kind == types.Exit {
		tpl = e.cfg.ExitTemplate
	}
	return strings.ReplaceAll(tpl, "{name}", name)
}
