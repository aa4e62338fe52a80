// Package progress carries progress reporting and cancellation through
// nested tile computations.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCanceled marks a computation that stopped because its run was
// cancelled. It is an outcome, not a failure.
var ErrCanceled = errors.New("computation canceled")

type Monitor interface {
	// Worked reports the fraction (0..1) of this monitor's share that is done.
	Worked(fraction float64)
	Canceled() bool
	// Stopped is closed once the monitor is cancelled. Null returns nil.
	Stopped() <-chan struct{}
	// Err returns nil while running, otherwise an error matching ErrCanceled.
	Err() error
	// Sub returns a monitor that owns share (0..1) of the remaining work.
	Sub(share float64) Monitor
}

type canceledError struct{ cause error }

func (e canceledError) Error() string {
	if e.cause == nil {
		return ErrCanceled.Error()
	}
	return fmt.Sprintf("%s: %v", ErrCanceled, e.cause)
}

func (e canceledError) Is(target error) bool { return target == ErrCanceled }

func (e canceledError) Unwrap() error { return e.cause }

// Canceled wraps cause so it matches both ErrCanceled and cause.
func Canceled(cause error) error { return canceledError{cause: cause} }

// IsCanceled reports whether err is a cancellation outcome.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

type root struct {
	ctx    context.Context
	report func(float64)

	mu   sync.Mutex
	done float64
}

// monitor is not safe for concurrent Worked calls; hand each goroutine its
// own Sub.
type monitor struct {
	r     *root
	share float64
	last  float64
}

// New returns a monitor cancelled together with ctx. report, if set, receives
// the overall completed fraction.
func New(ctx context.Context, report func(float64)) Monitor {
	if ctx == nil {
		ctx = context.Background()
	}
	return &monitor{r: &root{ctx: ctx, report: report}, share: 1}
}

func (m *monitor) Worked(fraction float64) {
	fraction = clamp(fraction)
	if fraction <= m.last {
		return
	}
	delta := (fraction - m.last) * m.share
	m.last = fraction
	m.r.mu.Lock()
	m.r.done = clamp(m.r.done + delta)
	d := m.r.done
	m.r.mu.Unlock()
	if m.r.report != nil {
		m.r.report(d)
	}
}

func (m *monitor) Canceled() bool { return m.r.ctx.Err() != nil }

func (m *monitor) Stopped() <-chan struct{} { return m.r.ctx.Done() }

func (m *monitor) Err() error {
	if err := m.r.ctx.Err(); err != nil {
		return Canceled(err)
	}
	return nil
}

func (m *monitor) Sub(share float64) Monitor {
	return &monitor{r: m.r, share: clamp(share) * m.share}
}

// Done is the overall completed fraction of the monitor tree.
func Done(m Monitor) float64 {
	mm, ok := m.(*monitor)
	if !ok {
		return 0
	}
	mm.r.mu.Lock()
	defer mm.r.mu.Unlock()
	return mm.r.done
}

type null struct{}

// Null never reports and is never cancelled.
var Null Monitor = null{}

func (null) Worked(float64)           {}
func (null) Canceled() bool           { return false }
func (null) Stopped() <-chan struct{} { return nil }
func (null) Err() error               { return nil }
func (null) Sub(float64) Monitor      { return null{} }

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// OrNull returns Null for a nil monitor.
func OrNull(m Monitor) Monitor {
	if m == nil {
		return Null
	}
	return m
}
