package connwatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/memu-digital/memu-bot/internal/metrics"
)

func fastBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   4,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 50 * time.Millisecond,
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackoffConfig_Defaults(t *testing.T) {
	got := BackoffConfig{MaxRetries: 3}.withDefaults()
	want := DefaultBackoffConfig()
	want.MaxRetries = 3
	if got != want {
		t.Errorf("withDefaults = %+v, want %+v", got, want)
	}
}

func TestBackoffConfig_PolicyDoublesToCeiling(t *testing.T) {
	p := BackoffConfig{InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}.policy()
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, p.NextBackOff())
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delays = %v, want %v", got, want)
		}
	}
}

func TestWatcher_StartupRetriesThenReady(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts, ready atomic.Int32
	m := NewManager(nil)
	w := m.Watch(ctx, WatcherConfig{
		Name: "ollama-startup",
		Probe: func(context.Context) error {
			if attempts.Add(1) <= 2 {
				return errors.New("connection refused")
			}
			return nil
		},
		Backoff: fastBackoff(),
		OnReady: func() { ready.Add(1) },
	})

	waitFor(t, "ready", w.IsReady)
	waitFor(t, "OnReady", func() bool { return ready.Load() == 1 })
	if w.LastError() != nil {
		t.Errorf("LastError = %v", w.LastError())
	}
	if got := testutil.ToFloat64(metrics.ServiceUp.WithLabelValues("ollama-startup")); got != 1 {
		t.Errorf("service_up = %v, want 1", got)
	}
	if !m.Ready("ollama-startup") || m.Ready("unknown") {
		t.Error("Manager.Ready wrong")
	}
}

func TestWatcher_ExhaustedRetriesKeepPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	var healthy atomic.Bool
	w := NewManager(nil).Watch(ctx, WatcherConfig{
		Name: "immich-down",
		Probe: func(context.Context) error {
			attempts.Add(1)
			if healthy.Load() {
				return nil
			}
			return errors.New("502 bad gateway")
		},
		Backoff: fastBackoff(),
	})

	waitFor(t, "startup budget spent", func() bool { return attempts.Load() > 4 })
	if w.IsReady() || w.LastError() == nil {
		t.Fatal("service reported ready while failing")
	}
	if got := testutil.ToFloat64(metrics.ServiceUp.WithLabelValues("immich-down")); got != 0 {
		t.Errorf("service_up = %v, want 0", got)
	}

	healthy.Store(true)
	waitFor(t, "recovery by polling", w.IsReady)
}

func TestWatcher_DownAndBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failing atomic.Bool
	var downs, readies atomic.Int32
	w := NewManager(nil).Watch(ctx, WatcherConfig{
		Name: "caldav-flap",
		Probe: func(context.Context) error {
			if failing.Load() {
				return errors.New("timeout")
			}
			return nil
		},
		Backoff: fastBackoff(),
		OnReady: func() { readies.Add(1) },
		OnDown:  func(error) { downs.Add(1) },
	})

	waitFor(t, "initial ready", w.IsReady)
	failing.Store(true)
	waitFor(t, "down", func() bool { return !w.IsReady() })
	waitFor(t, "OnDown", func() bool { return downs.Load() == 1 })
	failing.Store(false)
	waitFor(t, "back", w.IsReady)
	waitFor(t, "second OnReady", func() bool { return readies.Load() == 2 })

	if st := w.Status(); st.Name != "caldav-flap" || !st.Ready || st.LastCheck.IsZero() {
		t.Errorf("Status = %+v", st)
	}
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := fastBackoff()
	cfg.ProbeTimeout = 5 * time.Millisecond
	cfg.MaxRetries = 1
	w := NewManager(nil).Watch(ctx, WatcherConfig{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff: cfg,
	})

	waitFor(t, "timeout error", func() bool { return errors.Is(w.LastError(), context.DeadlineExceeded) })
}

func TestManager_StatusAndStop(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil)
	m.Watch(ctx, WatcherConfig{Name: "postgres", Probe: func(context.Context) error { return nil }, Backoff: fastBackoff()})
	m.Watch(ctx, WatcherConfig{Name: "matrix", Probe: func(context.Context) error { return errors.New("no") }, Backoff: fastBackoff()})

	waitFor(t, "postgres ready", func() bool { return m.Ready("postgres") })
	waitFor(t, "matrix probed", func() bool { return m.Status()["matrix"].LastError != "" })

	if names := m.Names(); len(names) != 2 || names[0] != "matrix" || names[1] != "postgres" {
		t.Errorf("Names = %v", names)
	}
	st := m.Status()
	if !st["postgres"].Ready || st["matrix"].Ready || st["matrix"].LastError != "no" {
		t.Errorf("Status = %+v", st)
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestManager_WatchPanicsOnBadConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for missing probe")
		}
	}()
	NewManager(nil).Watch(context.Background(), WatcherConfig{Name: "x"})
}

func TestManager_WatchReplaces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(nil)
	first := m.Watch(ctx, WatcherConfig{Name: "ollama", Probe: func(context.Context) error { return errors.New("old") }, Backoff: fastBackoff()})
	second := m.Watch(ctx, WatcherConfig{Name: "ollama", Probe: func(context.Context) error { return nil }, Backoff: fastBackoff()})

	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("replaced watcher still running")
	}
	waitFor(t, "replacement ready", second.IsReady)
	if len(m.Names()) != 1 {
		t.Errorf("Names = %v", m.Names())
	}
}
