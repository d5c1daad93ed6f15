// Package dispatch queues greeting utterances for a single speech worker.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/greeter/internal/types"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("dispatcher closed")

// Speaker renders one utterance. Speak blocks until playback ends.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// AudioError wraps a failed utterance. The job is dropped, not retried.
type AudioError struct {
	Job types.GreetingJob
	Err error
}

func (e *AudioError) Error() string {
	return fmt.Sprintf("speech failed for %s %q: %v", e.Job.Kind, e.Job.Name, e.Err)
}

func (e *AudioError) Unwrap() error { return e.Err }

// Stats is a point-in-time view of the queue.
type Stats struct {
	Spoken  int64 `json:"spoken"`
	Failed  int64 `json:"failed"`
	Pending int   `json:"pending"`
	Closed  bool  `json:"closed"`
}

// Dispatcher is a FIFO of greeting jobs drained by one goroutine, which is
// the only caller of the Speaker.
type Dispatcher struct {
	speaker Speaker
	logger  logrus.FieldLogger

	mu      sync.Mutex
	queue   []types.GreetingJob
	closed  bool
	started bool

	wake chan struct{}
	done chan struct{}

	spoken atomic.Int64
	failed atomic.Int64

	// OnError, when set, sees every AudioError after it is logged.
	OnError func(*AudioError)
}

// New creates a dispatcher. Call Start to begin speaking.
func New(speaker Speaker, logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		speaker: speaker,
		logger:  logger.WithField("component", "dispatch"),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the speech worker. Cancelling ctx does not abandon queued
// jobs; the worker exits only once Close has been called and the queue is empty.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go d.run(context.WithoutCancel(ctx))
}

// Enqueue appends a job without waiting for the worker.
func (d *Dispatcher) Enqueue(job types.GreetingJob) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.queue = append(d.queue, job)
	d.mu.Unlock()
	d.signal()
	return nil
}

// Close stops accepting jobs and waits until every queued job has been spoken
// or ctx expires. Calling Close again only waits; nothing is spoken twice.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	first := !d.closed
	d.closed = true
	if first && !d.started {
		// No worker will ever drain, so whatever is queued is dropped.
		if n := len(d.queue); n > 0 {
			d.logger.WithField("dropped", n).Warn("closed before start")
		}
		d.queue = nil
		close(d.done)
	}
	d.mu.Unlock()
	d.signal()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted with %d jobs pending: %w", d.Stats().Pending, ctx.Err())
	}
}

// Done is closed when the worker has exited.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Stats returns counters and the current backlog.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Spoken:  d.spoken.Load(),
		Failed:  d.failed.Load(),
		Pending: len(d.queue),
		Closed:  d.closed,
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest job. ok is false when nothing is queued; stop is true
// when nothing is queued and the dispatcher is closed.
func (d *Dispatcher) next() (job types.GreetingJob, ok, stop bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return job, false, d.closed
	}
	job = d.queue[0]
	d.queue[0] = types.GreetingJob{}
	d.queue = d.queue[1:]
	return job, true, false
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		job, ok, stop := d.next()
		if stop {
			return
		}
		if !ok {
			<-d.wake
			continue
		}
		d.speak(ctx, job)
	}
}

func (d *Dispatcher) speak(ctx context.Context, job types.GreetingJob) {
	log := d.logger.WithFields(logrus.Fields{"kind": job.Kind, "name": job.Name})
	if err := d.speaker.Speak(ctx, job.Text); err != nil {
		d.failed.Add(1)
		aerr := &AudioError{Job: job, Err: err}
		log.WithError(err).Warn("utterance dropped")
		if d.OnError != nil {
			d.OnError(aerr)
		}
		return
	}
	d.spoken.Add(1)
	log.Debug("utterance spoken")
}
