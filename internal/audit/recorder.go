// Package audit persists emitted greetings and writes the audit trail.
package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/greeter/internal/types"
	"github.com/sirupsen/logrus"
)

// EventStore is the persistence side of the recorder.
type EventStore interface {
	LogEvent(ctx context.Context, ev types.Event) error
}

// Recorder accepts events from the frame loop and writes them from its own
// goroutine. Record never blocks; a full buffer drops the event with a warning.
type Recorder struct {
	store  EventStore
	trail  logrus.FieldLogger
	logger logrus.FieldLogger

	ch        chan types.Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewTrailLogger builds the dedicated audit logger. Lines look like
// "ENTRY | Alice | sim=0.612 | track=3" prefixed with a timestamp.
func NewTrailLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableQuote:    true,
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return l
}

// Line formats one audit trail entry.
func Line(ev types.Event) string {
	s := fmt.Sprintf("%s | %s | sim=%.3f | track=%d", ev.Kind, ev.Name, ev.Score, ev.TrackID)
	if ev.Forced {
		s += " | forced"
	}
	return s
}

// New starts a recorder. store and trail may each be nil.
func New(store EventStore, trail logrus.FieldLogger, buffer int, logger logrus.FieldLogger) *Recorder {
	if buffer < 1 {
		buffer = 64
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Recorder{
		store:  store,
		trail:  trail,
		logger: logger.WithField("component", "audit"),
		ch:     make(chan types.Event, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues ev for persistence.
func (r *Recorder) Record(ev types.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.ch <- ev:
	default:
		r.dropped.Add(1)
		r.logger.WithFields(logrus.Fields{"kind": ev.Kind, "name": ev.Name}).Warn("audit buffer full, event dropped")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.ch {
		if r.trail != nil {
			r.trail.Info(Line(ev))
		}
		if r.store == nil {
			r.written.Add(1)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.store.LogEvent(ctx, ev)
		cancel()
		if err != nil {
			r.failed.Add(1)
			r.logger.WithError(err).WithField("event", ev.ID).Warn("failed to persist event")
			continue
		}
		r.written.Add(1)
	}
}

// Close stops accepting events and waits for the backlog to be written.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Counts returns written, dropped and failed totals.
func (r *Recorder) Counts() (written, dropped, failed int64) {
	return r.written.Load(), r.dropped.Load(), r.failed.Load()
}
