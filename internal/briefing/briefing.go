// Package briefing gathers the day's calendar, weather, headlines, photo
// memories and shopping list, and writes the morning message.
package briefing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/memu-digital/memu-bot/internal/calendar"
	"github.com/memu-digital/memu-bot/internal/household"
	"github.com/memu-digital/memu-bot/internal/photos"
	"github.com/memu-digital/memu-bot/internal/prompts"
)

// Header starts every delivered briefing.
const Header = "🌅 **Morning Briefing**"

const (
	maxEvents     = 5
	maxShopping   = 3
	gatherTimeout = 15 * time.Second
)

// CalendarSource lists today's events.
type CalendarSource interface {
	TodayEvents(ctx context.Context) ([]calendar.Event, error)
}

// PhotoSource finds photos taken on this day in earlier years.
type PhotoSource interface {
	OnThisDay(ctx context.Context, date time.Time) ([]photos.Asset, error)
}

// ListSource reads the shopping list.
type ListSource interface {
	ListItems(ctx context.Context, roomID string, completedLimit int) (pending, completed []household.ListItem, err error)
}

// WeatherSource reports current conditions.
type WeatherSource interface {
	Current(ctx context.Context) (Weather, error)
}

// NewsSource returns headlines.
type NewsSource interface {
	Headlines(ctx context.Context) []string
}

// Generator is the language model. It returns "" when unavailable.
type Generator interface {
	Generate(ctx context.Context, prompt, system string) string
}

// Sources bundles the inputs. Nil sources are left out of the briefing.
type Sources struct {
	Calendar CalendarSource
	Photos   PhotoSource
	List     ListSource
	Weather  WeatherSource
	News     NewsSource
}

// Data is everything gathered for one briefing.
type Data struct {
	Day             time.Time
	CalendarOK      bool
	Events          []calendar.Event
	MoreEvents      int
	Weather         *Weather
	Headlines       []string
	Memories        map[int]int // years ago -> photo count
	MemoryCount     int
	ShoppingOK      bool
	ShoppingCount   int
	ShoppingPreview []string
}

// Briefer builds briefings.
type Briefer struct {
	src    Sources
	gen    Generator
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Briefer. loc is the household's time zone.
func New(src Sources, gen Generator, loc *time.Location, logger *slog.Logger) *Briefer {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Briefer{src: src, gen: gen, loc: loc, now: time.Now, logger: logger}
}

// SetClock replaces the time source. Tests only.
func (b *Briefer) SetClock(now func() time.Time) { b.now = now }

// Gather collects the briefing inputs for roomID's shopping list. Each
// source failure is logged and leaves its section empty.
func (b *Briefer) Gather(ctx context.Context, roomID string) Data {
	d := Data{Day: b.now().In(b.loc)}

	if b.src.Calendar != nil {
		cctx, cancel := context.WithTimeout(ctx, gatherTimeout)
		events, err := b.src.Calendar.TodayEvents(cctx)
		cancel()
		if err != nil {
			b.logger.Warn("briefing calendar unavailable", "error", err)
		} else {
			d.CalendarOK = true
			d.Events = events
			if len(events) > maxEvents {
				d.Events = events[:maxEvents]
				d.MoreEvents = len(events) - maxEvents
			}
		}
	}

	if b.src.Weather != nil {
		cctx, cancel := context.WithTimeout(ctx, gatherTimeout)
		w, err := b.src.Weather.Current(cctx)
		cancel()
		if err != nil {
			b.logger.Debug("briefing weather unavailable", "error", err)
		} else {
			d.Weather = &w
		}
	}

	if b.src.News != nil {
		cctx, cancel := context.WithTimeout(ctx, gatherTimeout)
		d.Headlines = b.src.News.Headlines(cctx)
		cancel()
	}

	if b.src.Photos != nil {
		cctx, cancel := context.WithTimeout(ctx, gatherTimeout)
		assets, err := b.src.Photos.OnThisDay(cctx, d.Day)
		cancel()
		if err != nil {
			b.logger.Debug("briefing memories unavailable", "error", err)
		} else {
			d.Memories = map[int]int{}
			for _, a := range assets {
				if years := d.Day.Year() - a.TakenAt.In(b.loc).Year(); years > 0 {
					d.Memories[years]++
					d.MemoryCount++
				}
			}
		}
	}

	if b.src.List != nil && roomID != "" {
		pending, _, err := b.src.List.ListItems(ctx, roomID, 0)
		if err != nil {
			b.logger.Warn("briefing shopping list unavailable", "error", err)
		} else {
			d.ShoppingOK = true
			d.ShoppingCount = len(pending)
			for i, it := range pending {
				if i == maxShopping {
					break
				}
				d.ShoppingPreview = append(d.ShoppingPreview, it.Item)
			}
		}
	}
	return d
}

// Compose writes the briefing body, from the model when it answers and
// from a fixed layout otherwise.
func (b *Briefer) Compose(ctx context.Context, d Data) string {
	if b.gen != nil {
		prompt := prompts.BriefingPrompt(d.Day,
			d.calendarSection(), d.weatherSection(), d.newsSection(),
			d.memoriesSection(), d.shoppingSection())
		if text := strings.TrimSpace(b.gen.Generate(ctx, prompt, prompts.BriefingSystem)); text != "" {
			return text
		}
		b.logger.Info("briefing model unavailable, using fallback")
	}
	return Fallback(d)
}

// Build gathers and composes a complete message ready to send.
func (b *Briefer) Build(ctx context.Context, roomID string) (string, Data) {
	d := b.Gather(ctx, roomID)
	return Header + "\n\n" + b.Compose(ctx, d), d
}

// Fallback renders a briefing without the model.
func Fallback(d Data) string {
	lines := []string{fmt.Sprintf("☀️ Good morning! It's %s.", d.Day.Format("Monday, January 02"))}

	if n := len(d.Events) + d.MoreEvents; d.CalendarOK && n > 0 {
		lines = append(lines, fmt.Sprintf("📅 You have %d event(s) today.", n))
	}
	if d.Weather != nil {
		lines = append(lines, fmt.Sprintf("%s %s: %d°C, %s", d.Weather.Icon, d.Weather.City, d.Weather.Temp, d.Weather.Description))
	}
	if len(d.Headlines) > 0 {
		lines = append(lines, "\n📰 Headlines:")
		for i, h := range d.Headlines {
			if i == 3 {
				break
			}
			lines = append(lines, "  • "+h)
		}
	}
	if d.MemoryCount > 0 {
		lines = append(lines, fmt.Sprintf("📸 %d photo memories from this day!", d.MemoryCount))
	}
	if d.ShoppingOK && d.ShoppingCount > 0 {
		lines = append(lines, fmt.Sprintf("🛒 %d items on the shopping list", d.ShoppingCount))
	}
	lines = append(lines, "\nHave a great day! 💪")
	return strings.Join(lines, "\n")
}

// Debug renders the raw gathered data for /briefing debug.
func (d Data) Debug() string {
	return strings.Join([]string{
		"**Calendar:**\n" + d.calendarSection(),
		"**Weather:**\n" + d.weatherSection(),
		"**Headlines:**\n" + d.newsSection(),
		"**Memories:**\n" + d.memoriesSection(),
		"**Shopping:**\n" + d.shoppingSection(),
	}, "\n\n")
}

const nothing = "Nothing"

func (d Data) calendarSection() string {
	if !d.CalendarOK {
		return "Calendar unavailable"
	}
	if len(d.Events) == 0 {
		return "No events scheduled for today."
	}
	lines := make([]string, 0, len(d.Events)+1)
	for _, ev := range d.Events {
		lines = append(lines, "- "+calendar.FormatEvent(ev))
	}
	if d.MoreEvents > 0 {
		lines = append(lines, fmt.Sprintf("- and %d more", d.MoreEvents))
	}
	return strings.Join(lines, "\n")
}

func (d Data) weatherSection() string {
	if d.Weather == nil {
		return nothing
	}
	return d.Weather.String()
}

func (d Data) newsSection() string {
	if len(d.Headlines) == 0 {
		return nothing
	}
	return "- " + strings.Join(d.Headlines, "\n- ")
}

func (d Data) memoriesSection() string {
	if d.MemoryCount == 0 {
		return nothing
	}
	years := make([]int, 0, len(d.Memories))
	for y := range d.Memories {
		years = append(years, y)
	}
	sort.Ints(years)
	parts := make([]string, 0, len(years))
	for _, y := range years {
		if y == 1 {
			parts = append(parts, fmt.Sprintf("%d from last year", d.Memories[y]))
		} else {
			parts = append(parts, fmt.Sprintf("%d from %d years ago", d.Memories[y], y))
		}
	}
	return strings.Join(parts, ", ")
}

func (d Data) shoppingSection() string {
	if !d.ShoppingOK || d.ShoppingCount == 0 {
		return nothing
	}
	preview := strings.Join(d.ShoppingPreview, ", ")
	if extra := d.ShoppingCount - len(d.ShoppingPreview); extra > 0 {
		preview += fmt.Sprintf(" (+%d more)", extra)
	}
	return fmt.Sprintf("%d items (%s)", d.ShoppingCount, preview)
}
