package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusy is returned by RunOnce while another pass is in progress.
var ErrBusy = errors.New("reconciliation: pass already running")

// Timer runs reconciliation passes on an interval and on demand. At most one
// pass runs at a time.
type Timer struct {
	runner   *Runner
	interval time.Duration
	logger   *slog.Logger

	busy    atomic.Bool
	running atomic.Bool
	cancel  atomic.Pointer[context.CancelFunc]

	mu   sync.Mutex
	last *Report
	at   time.Time
}

func NewTimer(runner *Runner, interval time.Duration, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{runner: runner, interval: interval, logger: logger.With("component", "reconcile_timer")}
}

func (t *Timer) Running() bool { return t.running.Load() }

// Last returns the most recent successful report and when it finished, or
// nil before the first one.
func (t *Timer) Last() (*Report, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.at
}

// Start blocks, running a pass every interval until ctx ends or Stop is
// called.
func (t *Timer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.cancel.Store(&cancel)
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.RunOnce(ctx); errors.Is(err, ErrBusy) {
				t.logger.Debug("skipping scheduled pass, previous still running")
			}
		}
	}
}

// Stop ends a running Start loop. It is a no-op otherwise.
func (t *Timer) Stop() {
	if cancel := t.cancel.Load(); cancel != nil {
		(*cancel)()
	}
}

// RunOnce performs one pass and records its report. It returns ErrBusy
// without running when a pass is already in flight.
func (t *Timer) RunOnce(ctx context.Context) (report *Report, err error) {
	if !t.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer t.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("reconciliation pass panicked", "panic", fmt.Sprint(r))
			report, err = nil, fmt.Errorf("reconciliation panicked: %v", r)
		}
	}()

	report, err = t.runner.Run(ctx)
	if err != nil {
		t.logger.Warn("reconciliation pass failed", "error", err)
		return nil, err
	}
	t.mu.Lock()
	t.last, t.at = report, time.Now().UTC()
	t.mu.Unlock()
	return report, nil
}
