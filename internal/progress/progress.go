// Package progress reports long-running work at a bounded cadence and checks
// cooperative cancellation at chunk boundaries.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCanceled is returned when a caller stops simulation or training through its context.
var ErrCanceled = errors.New("operation canceled")

// Reporter receives a completion fraction in [0,1] and a human readable phase message.
type Reporter func(fraction float64, message string)

// Nop discards reports.
func Nop(float64, string) {}

const (
	defaultChunks      = 50
	defaultMinInterval = 0
)

// Tracker batches progress callbacks so that a loop of N iterations produces
// roughly Chunks reports regardless of N.
type Tracker struct {
	ctx    context.Context
	report Reporter

	total       int
	every       int
	minInterval time.Duration

	mu       sync.Mutex
	phase    string
	lastDone int
	lastAt   time.Time
	reports  int
}

type Option func(*Tracker)

// WithChunks sets the approximate number of reports over the whole run.
func WithChunks(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.every = max(1, t.total/n)
		}
	}
}

// WithMinInterval suppresses intermediate reports closer together than d.
func WithMinInterval(d time.Duration) Option {
	return func(t *Tracker) { t.minInterval = d }
}

func NewTracker(ctx context.Context, total int, report Reporter, opts ...Option) *Tracker {
	if ctx == nil {
		ctx = context.Background()
	}
	if report == nil {
		report = Nop
	}
	t := &Tracker{
		ctx:         ctx,
		report:      report,
		total:       max(0, total),
		minInterval: defaultMinInterval,
		lastDone:    -1,
	}
	t.every = max(1, t.total/defaultChunks)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Phase switches the phase message and reports it immediately.
func (t *Tracker) Phase(message string) {
	t.mu.Lock()
	t.phase = message
	frac := t.fraction(max(0, t.lastDone))
	t.reports++
	t.lastAt = time.Now()
	t.mu.Unlock()
	t.report(frac, message)
}

// Check returns ErrCanceled (wrapping the context cause) once the context is done.
func (t *Tracker) Check() error {
	if err := t.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(t.ctx))
	}
	return nil
}

// Step records that done units are finished. At chunk boundaries it checks
// cancellation and emits a report; between boundaries it is a cheap no-op.
func (t *Tracker) Step(done int) error {
	t.mu.Lock()
	boundary := done >= t.total || done-t.lastDone >= t.every || t.lastDone < 0
	if !boundary {
		t.mu.Unlock()
		return nil
	}
	if err := t.Check(); err != nil {
		t.mu.Unlock()
		return err
	}
	now := time.Now()
	if done < t.total && t.minInterval > 0 && !t.lastAt.IsZero() && now.Sub(t.lastAt) < t.minInterval {
		t.mu.Unlock()
		return nil
	}
	t.lastDone = done
	t.lastAt = now
	t.reports++
	frac, phase := t.fraction(done), t.phase
	t.mu.Unlock()
	t.report(frac, phase)
	return nil
}

// Done reports completion with a final message.
func (t *Tracker) Done(message string) {
	t.mu.Lock()
	t.lastDone = t.total
	t.phase = message
	t.reports++
	t.mu.Unlock()
	t.report(1, message)
}

// Reports is the number of callbacks emitted so far.
func (t *Tracker) Reports() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reports
}

func (t *Tracker) fraction(done int) float64 {
	if t.total == 0 {
		return 1
	}
	f := float64(done) / float64(t.total)
	if f > 1 {
		return 1
	}
	return f
}

// Scale maps a child reporter's [0,1] range onto [from,to] of the parent.
func Scale(parent Reporter, from, to float64) Reporter {
	if parent == nil {
		return Nop
	}
	return func(f float64, msg string) {
		parent(from+(to-from)*f, msg)
	}
}
