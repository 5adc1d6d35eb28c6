package briefing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule runs a job once a day at a fixed local time.
type Schedule struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// DailySpec builds the cron expression for hour:minute every day.
func DailySpec(hour, minute int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

// NewSchedule registers job at hour:minute in loc. The job receives a
// context that is cancelled when the schedule stops.
func NewSchedule(ctx context.Context, hour, minute int, loc *time.Location, logger *slog.Logger, job func(ctx context.Context)) (*Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cronLogger{logger})))
	spec := DailySpec(hour, minute)
	if _, err := c.AddFunc(spec, func() {
		logger.Info("morning briefing triggered")
		job(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule briefing %q: %w", spec, err)
	}
	return &Schedule{cron: c, logger: logger}, nil
}

// Start begins running jobs in the background.
func (s *Schedule) Start() {
	s.cron.Start()
	if entries := s.cron.Entries(); len(entries) > 0 {
		s.logger.Info("briefing scheduled", "next", entries[0].Next)
	}
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Schedule) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
