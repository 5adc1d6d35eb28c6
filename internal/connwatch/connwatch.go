// Package connwatch tracks whether the services the assistant leans on
// (homeserver, language model, calendar, photo library, database, MQTT
// broker) are reachable, so a restart of one of them degrades a feature
// instead of the whole bot.
//
// A watcher first retries its probe on an exponential schedule until the
// service answers or the startup budget is spent, then polls it at a
// fixed interval for the life of the process. Reachability is exported as
// the memu_service_up gauge and through [Manager.Status] for /health.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/memu-digital/memu-bot/internal/metrics"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls startup retries and background polling.
type BackoffConfig struct {
	InitialDelay time.Duration // first retry delay; default 2s
	MaxDelay     time.Duration // growth ceiling; default 60s
	Multiplier   float64       // default 2
	MaxRetries   int           // startup attempts; default 10
	PollInterval time.Duration // default 60s
	ProbeTimeout time.Duration // per probe; default 10s
}

// DefaultBackoffConfig returns 2s doubling to a 60s ceiling, ten startup
// attempts and one-minute polling.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}

// policy builds the startup schedule. Jitter is off so the log shows the
// configured delays.
func (c BackoffConfig) policy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// WatcherConfig describes one watched service.
type WatcherConfig struct {
	// Name identifies the service in logs, metrics and /health.
	Name string
	// Probe must be safe for concurrent use.
	Probe   ProbeFunc
	Backoff BackoffConfig
	// OnReady and OnDown run in their own goroutine on each
	// reachability change. Both are optional.
	OnReady func()
	OnDown  func(err error)
	Logger  *slog.Logger
}

// Manager owns the watchers of one process.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{watchers: make(map[string]*Watcher), logger: logger}
}

// Watch starts a watcher that runs until ctx is cancelled or Stop is
// called. Watching a name twice replaces the old watcher. An empty Name
// or nil Probe is a programming error and panics.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	w := newWatcher(ctx, cfg)
	m.mu.Lock()
	old := m.watchers[cfg.Name]
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	metrics.ServiceUp.WithLabelValues(cfg.Name).Set(0)
	go w.run()
	return w
}

// Ready reports whether the named service is reachable. Unwatched
// services count as not ready.
func (m *Manager) Ready(name string) bool {
	m.mu.RLock()
	w, ok := m.watchers[name]
	m.mu.RUnlock()
	return ok && w.IsReady()
}

// Status snapshots every watched service.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		out[name] = w.Status()
	}
	return out
}

// Names lists the watched services in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.watchers))
	for name := range m.watchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop shuts down every watcher and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	all := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		all = append(all, w)
	}
	m.mu.RUnlock()

	for _, w := range all {
		w.Stop()
	}
}
