// Package bot is the message router: it filters inbound chat events,
// picks a command or asks the intent engine, runs the handler and
// replies. It also drives the reminder and backup loops.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/memu-digital/memu-bot/internal/backup"
	"github.com/memu-digital/memu-bot/internal/brain"
	"github.com/memu-digital/memu-bot/internal/briefing"
	"github.com/memu-digital/memu-bot/internal/calendar"
	"github.com/memu-digital/memu-bot/internal/chathistory"
	"github.com/memu-digital/memu-bot/internal/dateparse"
	"github.com/memu-digital/memu-bot/internal/household"
	"github.com/memu-digital/memu-bot/internal/matrix"
	"github.com/memu-digital/memu-bot/internal/metrics"
	"github.com/memu-digital/memu-bot/internal/recall"
)

// handleTimeout bounds one message from receipt to final reply.
const handleTimeout = 5 * time.Minute

// workerQueue is the per-room backlog before intake blocks.
const workerQueue = 32

// Transport is the chat side of the bot.
type Transport interface {
	SendText(ctx context.Context, roomID, text string) (string, error)
	JoinedRooms(ctx context.Context) ([]string, error)
	JoinedMembers(ctx context.Context, roomID string) (map[string]string, error)
}

// Store is the household data the handlers read and write.
type Store interface {
	ModeStore
	AddFact(ctx context.Context, roomID, text, author string) (household.Fact, error)
	AddListItems(ctx context.Context, roomID, addedBy string, items []string) (int, error)
	ListItems(ctx context.Context, roomID string, completedLimit int) (pending, completed []household.ListItem, err error)
	MarkDone(ctx context.Context, roomID, query string) (household.ListItem, error)
	AddReminder(ctx context.Context, roomID, userID, content string, dueAt time.Time) (household.Reminder, error)
	DueReminders(ctx context.Context, now time.Time) ([]household.Reminder, error)
	MarkReminderProcessed(ctx context.Context, id int64) error
}

// Brain is the intent engine.
type Brain interface {
	ClassifyIntent(ctx context.Context, text string) brain.Intent
	ExtractReminder(ctx context.Context, text string) brain.ReminderFields
	SummarizeChat(ctx context.Context, transcript string) string
	Chat(ctx context.Context, text string) string
}

// Recaller answers cross-silo recall queries.
type Recaller interface {
	Recall(ctx context.Context, roomID, query string) recall.Answer
}

// Calendar is the read side of the family calendar.
type Calendar interface {
	Configured() bool
	GetEvents(ctx context.Context, start, end time.Time) ([]calendar.Event, error)
	FindFreeSlots(ctx context.Context, date time.Time, minMinutes, startHour, endHour int) ([]calendar.Slot, error)
}

// EventScheduler creates events from free text.
type EventScheduler interface {
	ScheduleFromText(ctx context.Context, text string) (calendar.Event, error)
}

// History reads back recent room messages.
type History interface {
	Recent(ctx context.Context, roomID string, limit int) ([]chathistory.Hit, error)
}

// BackupMonitor reports backup health and runs USB copies.
type BackupMonitor interface {
	Status(ctx context.Context) (backup.Status, error)
	ShouldSendUSBReminder(ctx context.Context) (bool, error)
	UnnotifiedFailures(ctx context.Context) ([]household.BackupRecord, error)
	MarkNotified(ctx context.Context, id int64) error
	USBDetected() bool
	HandleUSB(ctx context.Context) (backup.USBResult, bool)
}

// Briefer builds the morning briefing.
type Briefer interface {
	Build(ctx context.Context, roomID string) (string, briefing.Data)
}

// Config tunes the router.
type Config struct {
	UserID      string
	DisplayName string
	// StaleAfter drops events older than this on arrival; default 60s.
	StaleAfter time.Duration
	// RecallDebug sends a "gathering" note before recall answers.
	RecallDebug bool
	PrimaryRoom string

	WorkdayStartHour int
	WorkdayEndHour   int
	FreeSlotMinutes  int

	ReminderInterval    time.Duration
	BackupInterval      time.Duration
	BackupInitialDelay  time.Duration
	USBReminderWindow   backup.Window
	SummarizeMessageCap int
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 60 * time.Second
	}
	if c.WorkdayStartHour == 0 && c.WorkdayEndHour == 0 {
		c.WorkdayStartHour, c.WorkdayEndHour = 9, 17
	}
	if c.FreeSlotMinutes <= 0 {
		c.FreeSlotMinutes = 30
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = 10 * time.Second
	}
	if c.BackupInterval <= 0 {
		c.BackupInterval = 30 * time.Second
	}
	if c.BackupInitialDelay < 0 {
		c.BackupInitialDelay = 0
	}
	if c.USBReminderWindow.EndHour == 0 {
		c.USBReminderWindow = backup.Window{Weekday: time.Sunday, StartHour: 9, EndHour: 11}
	}
	if c.SummarizeMessageCap <= 0 {
		c.SummarizeMessageCap = 50
	}
	return c
}

// Deps are the collaborators. Only Transport, Store and Dates are
// required; a nil feature dependency makes its commands reply that the
// feature is unavailable.
type Deps struct {
	Transport Transport
	Store     Store
	Dates     *dateparse.Parser
	Brain     Brain
	Recall    Recaller
	Calendar  Calendar
	Scheduler EventScheduler
	History   History
	Backup    BackupMonitor
	Briefing  Briefer
	Logger    *slog.Logger
}

// Bot routes messages to handlers.
type Bot struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	modes  *modeCache
	cmds   commandTable

	idMu   sync.RWMutex
	selfID string

	dmMu sync.Mutex
	dms  map[string]dmEntry

	workerMu sync.Mutex
	workers  map[string]chan *matrix.Message
	wg       sync.WaitGroup

	// backupMu serialises CheckBackups and guards lastUSBReminder.
	backupMu        sync.Mutex
	lastUSBReminder time.Time
}

type dmEntry struct {
	direct  bool
	checked time.Time
}

// New creates a Bot.
func New(cfg Config, deps Deps) *Bot {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		logger:  logger,
		now:     time.Now,
		modes:   newModeCache(deps.Store),
		selfID:  cfg.UserID,
		dms:     make(map[string]dmEntry),
		workers: make(map[string]chan *matrix.Message),
	}
	b.cmds = b.commands()
	return b
}

// SetClock replaces the time source. Tests only.
func (b *Bot) SetClock(now func() time.Time) { b.now = now }

// SetSelfID records the identity confirmed by the homeserver. A
// mismatch with the configured ID is logged; local-part filtering keeps
// working either way.
func (b *Bot) SetSelfID(id string) {
	if id == "" {
		return
	}
	b.idMu.Lock()
	prev := b.selfID
	b.selfID = id
	b.idMu.Unlock()
	if prev != "" && prev != id {
		b.logger.Warn("homeserver identity differs from configured user id",
			"configured", prev, "resolved", id)
	}
}

func (b *Bot) self() string {
	b.idMu.RLock()
	defer b.idMu.RUnlock()
	return b.selfID
}

// LoadModes warms the mode cache from the store.
func (b *Bot) LoadModes(ctx context.Context) error {
	if err := b.modes.load(ctx); err != nil {
		return fmt.Errorf("load room modes: %w", err)
	}
	return nil
}

// Run consumes messages until ctx is cancelled or the channel closes,
// handing each to its room's worker. It waits for in-flight messages
// before returning.
func (b *Bot) Run(ctx context.Context, messages <-chan *matrix.Message) {
	b.logger.Info("message router started")
	defer func() {
		b.workerMu.Lock()
		for room, ch := range b.workers {
			close(ch)
			delete(b.workers, room)
		}
		b.workerMu.Unlock()
		b.wg.Wait()
		b.logger.Info("message router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				b.logger.Info("message channel closed, router stopping")
				return
			}
			if !b.accept(ctx, msg) {
				continue
			}
			select {
			case b.worker(ctx, msg.RoomID) <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// worker returns the room's queue, starting its goroutine on first use.
// Messages of one room are handled in order; rooms run concurrently.
func (b *Bot) worker(ctx context.Context, roomID string) chan<- *matrix.Message {
	b.workerMu.Lock()
	defer b.workerMu.Unlock()
	if ch, ok := b.workers[roomID]; ok {
		return ch
	}
	ch := make(chan *matrix.Message, workerQueue)
	b.workers[roomID] = ch
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			b.OnMessage(ctx, msg)
		}
	}()
	return ch
}

// accept applies the cheap filters that need no store access: the
// bot's own messages and stale replays.
func (b *Bot) accept(_ context.Context, msg *matrix.Message) bool {
	if msg == nil || strings.TrimSpace(msg.Body) == "" {
		return false
	}
	if matrix.SameUser(msg.Sender, b.self()) {
		metrics.MessagesTotal.WithLabelValues("self").Inc()
		return false
	}
	received := msg.Received
	if received.IsZero() {
		received = b.now()
	}
	if !msg.SentAt.IsZero() && received.Sub(msg.SentAt) > b.cfg.StaleAfter {
		metrics.MessagesTotal.WithLabelValues("stale").Inc()
		b.logger.Debug("dropping stale message",
			"room", msg.RoomID, "event", msg.EventID, "age", received.Sub(msg.SentAt))
		return false
	}
	return true
}

// OnMessage handles one inbound message end to end. It never panics
// and replies at most once with an error.
func (b *Bot) OnMessage(ctx context.Context, msg *matrix.Message) {
	if !b.accept(ctx, msg) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	body := strings.TrimSpace(msg.Body)
	req := &request{roomID: msg.RoomID, sender: msg.Sender, body: body}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked", "room", msg.RoomID, "panic", r)
			b.reply(ctx, req.roomID, replyInternalError)
		}
	}()

	if strings.HasPrefix(body, "/") {
		metrics.MessagesTotal.WithLabelValues("command").Inc()
		if cmd, args, ok := b.cmds.match(body); ok {
			req.args = args
			b.run(ctx, cmd, req)
			return
		}
		b.logger.Debug("unknown command", "room", msg.RoomID, "body", body)
		return
	}

	if !b.addressed(ctx, msg.RoomID, body) {
		return
	}
	metrics.MessagesTotal.WithLabelValues("intent").Inc()
	b.handleNaturalLanguage(ctx, req)
}

// addressed applies the room's mode to a non-command message.
func (b *Bot) addressed(ctx context.Context, roomID, body string) bool {
	mode, err := b.modes.get(ctx, roomID)
	if err != nil {
		b.logger.Warn("room mode lookup failed, using default", "room", roomID, "error", err)
	}
	switch mode {
	case household.ModeOff:
		metrics.MessagesTotal.WithLabelValues("mode_off").Inc()
		return false
	case household.ModeQuiet:
		if b.mentioned(body) {
			return true
		}
	default:
		if b.mentioned(body) || b.direct(ctx, roomID) {
			return true
		}
	}
	metrics.MessagesTotal.WithLabelValues("not_addressed").Inc()
	return false
}

// mentioned reports whether the bot's local part or display name
// appears in text, ignoring case.
func (b *Bot) mentioned(text string) bool {
	lower := strings.ToLower(text)
	if lp := matrix.LocalPart(b.self()); lp != "" && strings.Contains(lower, lp) {
		return true
	}
	if dn := strings.ToLower(strings.TrimSpace(b.cfg.DisplayName)); dn != "" && strings.Contains(lower, dn) {
		return true
	}
	return false
}

// dmTTL is how long a room's member count is trusted.
const dmTTL = 10 * time.Minute

// direct reports whether the room has exactly two members.
func (b *Bot) direct(ctx context.Context, roomID string) bool {
	b.dmMu.Lock()
	e, ok := b.dms[roomID]
	b.dmMu.Unlock()
	if ok && b.now().Sub(e.checked) < dmTTL {
		return e.direct
	}

	members, err := b.deps.Transport.JoinedMembers(ctx, roomID)
	if err != nil {
		b.logger.Warn("member lookup failed", "room", roomID, "error", err)
		return false
	}
	e = dmEntry{direct: len(members) == 2, checked: b.now()}
	b.dmMu.Lock()
	b.dms[roomID] = e
	b.dmMu.Unlock()
	return e.direct
}

// reply sends text and logs a failure. Replies use a fresh context when
// the handler's has expired, so a slow handler still gets its answer
// out.
func (b *Bot) reply(ctx context.Context, roomID, text string) {
	if text == "" {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	if _, err := b.deps.Transport.SendText(ctx, roomID, text); err != nil {
		b.logger.Error("failed to send reply", "room", roomID, "error", err)
	}
}
