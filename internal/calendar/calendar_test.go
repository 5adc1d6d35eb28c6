package calendar

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"github.com/memu-digital/memu-bot/internal/brain"
	"github.com/memu-digital/memu-bot/internal/dateparse"
)

type fakeSource struct {
	cals       []*ical.Calendar
	queryErr   error
	gotStart   time.Time
	gotEnd     time.Time
	putName    string
	putCal     *ical.Calendar
	pingErr    error
	queryCalls int
}

func (f *fakeSource) query(_ context.Context, start, end time.Time) ([]*ical.Calendar, error) {
	f.queryCalls++
	f.gotStart, f.gotEnd = start, end
	return f.cals, f.queryErr
}

func (f *fakeSource) put(_ context.Context, name string, cal *ical.Calendar) error {
	f.putName, f.putCal = name, cal
	return nil
}

func (f *fakeSource) ping(context.Context) error { return f.pingErr }

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testClient(src source) *Client {
	return &Client{
		cfg:    Config{Location: time.UTC, ConnectAttempts: 1},
		logger: slog.Default(),
		now:    func() time.Time { return testNow },
		src:    src,
	}
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

func timedCal(summary, location string, start, end time.Time) *ical.Calendar {
	return encodeEvent(summary+"@test", NewEvent{Summary: summary, Location: location, Start: start, End: end}, testNow)
}

func allDayCal(summary string, day time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, summary+"@test")
	ev.Props.SetDateTime(ical.PropDateTimeStamp, testNow)
	ev.Props.SetText(ical.PropSummary, summary)
	ev.Props.SetDate(ical.PropDateTimeStart, day)
	cal.Children = append(cal.Children, ev.Component)
	return cal
}

func TestFreeSlots_OneMeeting(t *testing.T) {
	events := []Event{{Summary: "Standup", Start: at(10, 10, 0), End: at(10, 11, 0)}}

	got := FreeSlots(events, at(10, 9, 0), at(10, 17, 0), 30)
	want := []Slot{
		{Start: at(10, 9, 0), End: at(10, 10, 0), Minutes: 60},
		{Start: at(10, 11, 0), End: at(10, 17, 0), Minutes: 360},
	}
	if len(got) != len(want) {
		t.Fatalf("FreeSlots = %+v, want %+v", got, want)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) || got[i].Minutes != want[i].Minutes {
			t.Errorf("slot %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFreeSlots_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		min    int
		want   int
	}{
		{"empty day", nil, 30, 1},
		{"all-day event ignored", []Event{{AllDay: true, Start: at(10, 0, 0), End: at(11, 0, 0)}}, 30, 1},
		{"short gap dropped", []Event{
			{Start: at(10, 9, 0), End: at(10, 12, 0)},
			{Start: at(10, 12, 15), End: at(10, 17, 0)},
		}, 30, 0},
		{"overlapping events", []Event{
			{Start: at(10, 10, 0), End: at(10, 13, 0)},
			{Start: at(10, 11, 0), End: at(10, 12, 0)},
		}, 30, 2},
		{"unsorted input", []Event{
			{Start: at(10, 14, 0), End: at(10, 15, 0)},
			{Start: at(10, 10, 0), End: at(10, 11, 0)},
		}, 30, 3},
		{"event spills past window", []Event{{Start: at(10, 16, 0), End: at(10, 19, 0)}}, 30, 1},
		{"event starts before window", []Event{{Start: at(10, 8, 0), End: at(10, 10, 0)}}, 30, 1},
		{"busy all day", []Event{{Start: at(10, 8, 0), End: at(10, 18, 0)}}, 30, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FreeSlots(tt.events, at(10, 9, 0), at(10, 17, 0), tt.min)
			if len(got) != tt.want {
				t.Fatalf("got %d slots %+v, want %d", len(got), got, tt.want)
			}
			for _, s := range got {
				if s.Start.Before(at(10, 9, 0)) || s.End.After(at(10, 17, 0)) {
					t.Errorf("slot %+v escapes the window", s)
				}
			}
		})
	}
}

func TestGetEvents_SortedWithDefaults(t *testing.T) {
	src := &fakeSource{cals: []*ical.Calendar{
		timedCal("Swimming", "Leisure centre", at(12, 17, 0), at(12, 18, 0)),
		timedCal("Dentist", "", at(11, 15, 0), at(11, 16, 0)),
		allDayCal("Inset day", at(13, 0, 0)),
	}}
	c := testClient(src)

	events, err := c.GetEvents(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if !src.gotStart.Equal(at(10, 0, 0)) || !src.gotEnd.Equal(at(17, 0, 0)) {
		t.Errorf("range = %v..%v, want today midnight + 7 days", src.gotStart, src.gotEnd)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Summary != "Dentist" || events[1].Summary != "Swimming" || events[2].Summary != "Inset day" {
		t.Errorf("order = %s, %s, %s", events[0].Summary, events[1].Summary, events[2].Summary)
	}
	if !events[2].AllDay || events[0].AllDay {
		t.Error("all-day flag not decoded")
	}
	if events[1].Location != "Leisure centre" {
		t.Errorf("location = %q", events[1].Location)
	}
}

func TestGetEvents_QueryError(t *testing.T) {
	c := testClient(&fakeSource{queryErr: errors.New("503")})
	if _, err := c.GetEvents(context.Background(), time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestUnconfigured(t *testing.T) {
	c := New(Config{}, nil)
	if c.Configured() {
		t.Error("Configured() = true with no URL")
	}
	if _, err := c.GetEvents(context.Background(), time.Time{}, time.Time{}); !errors.Is(err, ErrCalendarUnavailable) {
		t.Errorf("err = %v, want ErrCalendarUnavailable", err)
	}
	if c.IsAvailable(context.Background()) {
		t.Error("IsAvailable() = true with no URL")
	}
}

func TestSearchEvents(t *testing.T) {
	src := &fakeSource{cals: []*ical.Calendar{
		timedCal("Boiler service", "", at(2, 9, 0), at(2, 10, 0)),
		timedCal("Dentist", "", at(11, 15, 0), at(11, 16, 0)),
		timedCal("Parents evening", "Boiler room", at(20, 18, 0), at(20, 19, 0)),
	}}
	c := testClient(src)

	got, err := c.SearchEvents(context.Background(), "BOILER", 12)
	if err != nil {
		t.Fatalf("SearchEvents: %v", err)
	}
	if len(got) != 2 || got[0].Summary != "Boiler service" || got[1].Summary != "Parents evening" {
		t.Errorf("SearchEvents = %+v", got)
	}
	if !src.gotStart.Equal(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("search start = %v, want twelve months back", src.gotStart)
	}
	if !src.gotEnd.Equal(time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("search end = %v, want three months ahead", src.gotEnd)
	}
}

func TestConfigured_DoesNotWaitForConnect(t *testing.T) {
	c := New(Config{URL: "https://dav.example/dav.php/"}, nil)

	// A connect holds mu for its whole backoff.
	c.mu.Lock()
	defer c.mu.Unlock()

	done := make(chan bool, 1)
	go func() { done <- c.Configured() }()
	select {
	case got := <-done:
		if !got {
			t.Error("Configured() = false with a URL")
		}
	case <-time.After(time.Second):
		t.Fatal("Configured() blocked on the connect lock")
	}
}

func TestAddEvent(t *testing.T) {
	src := &fakeSource{}
	c := testClient(src)

	uid, err := c.AddEvent(context.Background(), NewEvent{Summary: "Dentist", Start: at(11, 15, 0)})
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if !strings.HasSuffix(uid, "@memu.digital") {
		t.Errorf("uid = %q", uid)
	}
	if !strings.HasSuffix(src.putName, ".ics") || strings.Contains(src.putName, "@") {
		t.Errorf("object name = %q", src.putName)
	}

	events := src.putCal.Events()
	if len(events) != 1 {
		t.Fatalf("uploaded %d events", len(events))
	}
	ev, err := decodeEvent(events[0], time.UTC)
	if err != nil {
		t.Fatalf("decode uploaded event: %v", err)
	}
	if ev.UID != uid || !ev.End.Equal(at(11, 16, 0)) {
		t.Errorf("uploaded = %+v, want uid %s and default one hour", ev, uid)
	}

	if _, err := c.AddEvent(context.Background(), NewEvent{Start: at(11, 15, 0)}); err == nil {
		t.Error("expected error for empty summary")
	}
}

func TestFindFreeSlots(t *testing.T) {
	src := &fakeSource{cals: []*ical.Calendar{timedCal("Standup", "", at(11, 10, 0), at(11, 11, 0))}}
	c := testClient(src)

	slots, err := c.FindFreeSlots(context.Background(), at(11, 7, 30), 30, 9, 17)
	if err != nil {
		t.Fatalf("FindFreeSlots: %v", err)
	}
	if len(slots) != 2 || slots[1].Minutes != 360 {
		t.Errorf("slots = %+v", slots)
	}
	if !src.gotStart.Equal(at(11, 9, 0)) || !src.gotEnd.Equal(at(11, 17, 0)) {
		t.Errorf("window = %v..%v", src.gotStart, src.gotEnd)
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Summary: "Dentist", Start: at(11, 15, 0), End: at(11, 16, 0)}, "15:00-16:00: Dentist"},
		{Event{Summary: "Swim", Location: "Pool", Start: at(11, 17, 0), End: at(11, 18, 30)}, "17:00-18:30: Swim @ Pool"},
		{Event{Summary: "Inset day", AllDay: true, Start: at(11, 0, 0)}, "All day: Inset day"},
	}
	for _, tt := range tests {
		if got := FormatEvent(tt.ev); got != tt.want {
			t.Errorf("FormatEvent = %q, want %q", got, tt.want)
		}
	}
}

func TestFormatEventList(t *testing.T) {
	if got := FormatEventList(nil); got != "No events scheduled." {
		t.Errorf("empty = %q", got)
	}

	got := FormatEventList([]Event{
		{Summary: "Dentist", Start: at(11, 15, 0), End: at(11, 16, 0)},
		{Summary: "Swim", Start: at(11, 17, 0), End: at(11, 18, 0)},
		{Summary: "Match", Start: at(12, 10, 0), End: at(12, 11, 0)},
	})
	want := "\n**Wednesday, March 11**\n  15:00-16:00: Dentist\n  17:00-18:00: Swim\n\n**Thursday, March 12**\n  10:00-11:00: Match"
	if got != want {
		t.Errorf("FormatEventList =\n%q\nwant\n%q", got, want)
	}
}

type fakeExtractor struct{ fields brain.EventFields }

func (f fakeExtractor) ExtractCalendarEvent(context.Context, string) brain.EventFields {
	return f.fields
}

type fakeAdder struct {
	got NewEvent
	err error
}

func (f *fakeAdder) AddEvent(_ context.Context, ev NewEvent) (string, error) {
	f.got = ev
	return "abc@memu.digital", f.err
}

func TestScheduleFromText(t *testing.T) {
	dates := dateparse.New(time.UTC)
	dates.SetClock(func() time.Time { return testNow })

	tests := []struct {
		name      string
		fields    brain.EventFields
		text      string
		wantErr   error
		wantStart time.Time
		wantEnd   time.Time
		wantTitle string
	}{
		{
			name:      "extracted fields",
			fields:    brain.EventFields{Summary: "Dentist", Date: "2026-03-12", Time: "15:00", Duration: "2 hours"},
			text:      "dentist thursday 3pm for two hours",
			wantStart: at(12, 15, 0),
			wantEnd:   at(12, 17, 0),
			wantTitle: "Dentist",
		},
		{
			name:      "raw text fallback",
			fields:    brain.EventFields{Date: "someday"},
			text:      "2026-03-12 09:30",
			wantStart: at(12, 9, 30),
			wantEnd:   at(12, 10, 30),
			wantTitle: "2026-03-12 09:30",
		},
		{
			name:    "past",
			fields:  brain.EventFields{Summary: "Dentist", Date: "2026-03-09", Time: "15:00"},
			text:    "dentist",
			wantErr: dateparse.ErrPastTime,
		},
		{
			name:    "no time at all",
			text:    "buy a present",
			wantErr: dateparse.ErrUnparseableTime,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adder := &fakeAdder{}
			s := NewScheduler(fakeExtractor{tt.fields}, adder, dates)

			ev, err := s.ScheduleFromText(context.Background(), tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ScheduleFromText: %v", err)
			}
			if !ev.Start.Equal(tt.wantStart) || !ev.End.Equal(tt.wantEnd) || ev.Summary != tt.wantTitle {
				t.Errorf("event = %+v", ev)
			}
			if ev.UID != "abc@memu.digital" || adder.got.Summary != tt.wantTitle {
				t.Errorf("adder got %+v, uid %q", adder.got, ev.UID)
			}
		})
	}
}
