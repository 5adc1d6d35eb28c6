package bot

import (
	"context"
	"time"

	"github.com/memu-digital/memu-bot/internal/backup"
	"github.com/memu-digital/memu-bot/internal/metrics"
)

// RunReminders sweeps due reminders every ReminderInterval until ctx is
// cancelled.
func (b *Bot) RunReminders(ctx context.Context) {
	b.logger.Info("reminder loop started", "interval", b.cfg.ReminderInterval)
	ticker := time.NewTicker(b.cfg.ReminderInterval)
	defer ticker.Stop()

	for {
		b.SweepReminders(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepReminders delivers every due reminder once. A reminder is marked
// processed only after its alert was sent, so a failed send is retried
// on the next sweep.
func (b *Bot) SweepReminders(ctx context.Context) {
	defer b.recoverPass("reminders")

	due, err := b.deps.Store.DueReminders(ctx, b.now())
	if err != nil {
		b.logger.Error("failed to load due reminders", "error", err)
		return
	}
	for _, r := range due {
		if _, err := b.deps.Transport.SendText(ctx, r.RoomID, "🔔 REMINDER: "+r.Content); err != nil {
			b.logger.Error("failed to send reminder", "id", r.ID, "room", r.RoomID, "error", err)
			continue
		}
		metrics.RemindersSent.Inc()
		if err := b.deps.Store.MarkReminderProcessed(ctx, r.ID); err != nil {
			b.logger.Error("failed to mark reminder processed", "id", r.ID, "error", err)
			continue
		}
		b.logger.Info("reminder delivered", "id", r.ID, "room", r.RoomID)
	}
}

// RunBackups watches backup health after BackupInitialDelay, then every
// BackupInterval.
func (b *Bot) RunBackups(ctx context.Context) {
	if b.deps.Backup == nil {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(b.cfg.BackupInitialDelay):
	}

	b.logger.Info("backup monitor loop started", "interval", b.cfg.BackupInterval)
	ticker := time.NewTicker(b.cfg.BackupInterval)
	defer ticker.Stop()

	for {
		b.CheckBackups(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckBackups runs one pass: announce new failures, handle an inserted
// USB drive, and send the weekly USB reminder when it is due. Passes from
// the loop and from the MQTT button run one at a time.
func (b *Bot) CheckBackups(ctx context.Context) {
	mon := b.deps.Backup
	if mon == nil {
		return
	}
	b.backupMu.Lock()
	defer b.backupMu.Unlock()
	defer b.recoverPass("backups")

	failures, err := mon.UnnotifiedFailures(ctx)
	if err != nil {
		b.logger.Error("failed to load backup failures", "error", err)
	}
	for _, f := range failures {
		b.broadcast(ctx, backup.FormatFailure(f))
		if err := mon.MarkNotified(ctx, f.ID); err != nil {
			b.logger.Error("failed to mark backup notified", "id", f.ID, "error", err)
			continue
		}
		b.logger.Info("sent backup failure notification", "filename", f.Filename)
	}

	if res, ran := mon.HandleUSB(ctx); ran {
		if res.OK() {
			b.broadcast(ctx, backup.FormatUSBSuccess(res))
		} else {
			b.broadcast(ctx, backup.FormatUSBError(res))
		}
	}

	b.checkUSBReminder(ctx)
}

func (b *Bot) checkUSBReminder(ctx context.Context) {
	now := b.now()
	if b.deps.Dates != nil {
		now = now.In(b.deps.Dates.Location())
	}
	if !b.cfg.USBReminderWindow.Contains(now) {
		return
	}

	if sameDay(b.lastUSBReminder, now) {
		return
	}

	send, err := b.deps.Backup.ShouldSendUSBReminder(ctx)
	if err != nil {
		b.logger.Error("failed to check USB reminder", "error", err)
		return
	}
	if !send {
		return
	}
	st, err := b.deps.Backup.Status(ctx)
	if err != nil {
		b.logger.Error("failed to get backup status for USB reminder", "error", err)
		return
	}
	b.broadcast(ctx, backup.FormatUSBReminder(st))

	b.lastUSBReminder = now
	b.logger.Info("sent weekly USB backup reminder")
}

// recoverPass keeps a panicking pass from taking the loop, and the
// process, down with it.
func (b *Bot) recoverPass(loop string) {
	if r := recover(); r != nil {
		b.logger.Error("loop pass panicked", "loop", loop, "panic", r)
	}
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DeliverBriefing sends the morning briefing to the primary room, or to
// every joined room when none is configured.
func (b *Bot) DeliverBriefing(ctx context.Context) {
	if b.deps.Briefing == nil {
		return
	}
	rooms := []string{b.cfg.PrimaryRoom}
	if b.cfg.PrimaryRoom == "" {
		joined, err := b.deps.Transport.JoinedRooms(ctx)
		if err != nil {
			b.logger.Error("failed to list rooms for briefing", "error", err)
			return
		}
		rooms = joined
	}
	for _, room := range rooms {
		text, _ := b.deps.Briefing.Build(ctx, room)
		if _, err := b.deps.Transport.SendText(ctx, room, text); err != nil {
			b.logger.Error("failed to deliver briefing", "room", room, "error", err)
			continue
		}
		b.logger.Info("morning briefing delivered", "room", room)
	}
}

// broadcast sends text to every joined room. A failing room does not
// stop the others.
func (b *Bot) broadcast(ctx context.Context, text string) {
	rooms, err := b.deps.Transport.JoinedRooms(ctx)
	if err != nil {
		b.logger.Error("failed to list joined rooms", "error", err)
		return
	}
	for _, room := range rooms {
		if _, err := b.deps.Transport.SendText(ctx, room, text); err != nil {
			b.logger.Error("failed to broadcast", "room", room, "error", err)
		}
	}
}
