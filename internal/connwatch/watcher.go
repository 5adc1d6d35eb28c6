package connwatch

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/memu-digital/memu-bot/internal/metrics"
)

// ServiceStatus is one service's health as reported by /health.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes one service.
type Watcher struct {
	cfg    WatcherConfig
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	status  ServiceStatus
	lastErr error
}

func newWatcher(ctx context.Context, cfg WatcherConfig) *Watcher {
	wctx, cancel := context.WithCancel(ctx)
	return &Watcher{
		cfg:    cfg,
		ctx:    wctx,
		cancel: cancel,
		done:   make(chan struct{}),
		status: ServiceStatus{Name: cfg.Name},
	}
}

// IsReady reports whether the service answered its last probe.
func (w *Watcher) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Ready
}

// LastError returns the last probe error, nil when healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns a snapshot.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	if !w.startup() {
		return
	}

	ticker := time.NewTicker(w.cfg.Backoff.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			err := w.probe()
			if w.ctx.Err() != nil {
				return
			}
			w.transition(err)
		}
	}
}

// startup retries the probe on the backoff schedule. It returns false
// when the watcher was cancelled meanwhile.
func (w *Watcher) startup() bool {
	cfg := w.cfg.Backoff
	logger := w.cfg.Logger
	attempts := 0

	op := func() error {
		attempts++
		err := w.probe()
		if err != nil {
			w.record(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Debug("startup probe failed, retrying",
			"service", w.cfg.Name, "attempt", attempts, "next_delay", next.String(), "error", err)
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(cfg.policy(), uint64(cfg.MaxRetries-1)), w.ctx)
	err := backoff.RetryNotify(op, schedule, notify)
	switch {
	case w.ctx.Err() != nil:
		return false
	case err != nil:
		logger.Warn("startup connection failed, entering background polling",
			"service", w.cfg.Name, "attempts", attempts, "error", err)
	default:
		logger.Debug("startup probe succeeded", "service", w.cfg.Name, "after_attempts", attempts)
		w.transition(nil)
	}
	return true
}

func (w *Watcher) probe() error {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.Backoff.ProbeTimeout)
	defer cancel()
	return w.cfg.Probe(ctx)
}

// transition records a probe result and fires the callbacks when
// reachability flips.
func (w *Watcher) transition(err error) {
	up := err == nil
	was := w.record(err)
	logger := w.cfg.Logger

	switch {
	case up && !was:
		logger.Info("service reachable", "service", w.cfg.Name)
		if w.cfg.OnReady != nil {
			go w.cfg.OnReady()
		}
	case !up && was:
		logger.Warn("service became unreachable", "service", w.cfg.Name, "error", err)
		if w.cfg.OnDown != nil {
			go w.cfg.OnDown(err)
		}
	case !up:
		logger.Debug("service still unreachable", "service", w.cfg.Name, "error", err)
	}
}

// record stores a probe result and returns the previous readiness.
func (w *Watcher) record(err error) (wasReady bool) {
	w.mu.Lock()
	wasReady = w.status.Ready
	w.status.Ready = err == nil
	w.status.LastCheck = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	w.lastErr = err
	w.mu.Unlock()

	up := 0.0
	if err == nil {
		up = 1
	}
	metrics.ServiceUp.WithLabelValues(w.cfg.Name).Set(up)
	return wasReady
}
