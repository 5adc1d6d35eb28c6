package briefing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/memu-digital/memu-bot/internal/calendar"
	"github.com/memu-digital/memu-bot/internal/household"
	"github.com/memu-digital/memu-bot/internal/photos"
)

var morning = time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)

type fakeCalendar struct {
	events []calendar.Event
	err    error
}

func (f fakeCalendar) TodayEvents(context.Context) ([]calendar.Event, error) { return f.events, f.err }

type fakePhotos struct{ assets []photos.Asset }

func (f fakePhotos) OnThisDay(context.Context, time.Time) ([]photos.Asset, error) {
	return f.assets, nil
}

type fakeList struct{ pending []household.ListItem }

func (f fakeList) ListItems(context.Context, string, int) ([]household.ListItem, []household.ListItem, error) {
	return f.pending, nil, nil
}

type fakeWeather struct {
	w   Weather
	err error
}

func (f fakeWeather) Current(context.Context) (Weather, error) { return f.w, f.err }

type fakeNews []string

func (f fakeNews) Headlines(context.Context) []string { return f }

type fakeGen struct {
	out     string
	prompts []string
}

func (g *fakeGen) Generate(_ context.Context, prompt, _ string) string {
	g.prompts = append(g.prompts, prompt)
	return g.out
}

func testSources() Sources {
	at := func(h int) time.Time { return morning.Truncate(24 * time.Hour).Add(time.Duration(h) * time.Hour) }
	return Sources{
		Calendar: fakeCalendar{events: []calendar.Event{
			{Summary: "School run", Start: at(8), End: at(9)},
			{Summary: "Dentist", Start: at(14), End: at(15), Location: "High St"},
		}},
		Photos: fakePhotos{assets: []photos.Asset{
			{TakenAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)},
			{TakenAt: time.Date(2023, 3, 10, 12, 0, 0, 0, time.UTC)},
			{TakenAt: time.Date(2023, 3, 10, 13, 0, 0, 0, time.UTC)},
		}},
		List: fakeList{pending: []household.ListItem{
			{Item: "milk"}, {Item: "eggs"}, {Item: "bread"}, {Item: "tea"},
		}},
		Weather: fakeWeather{w: Weather{City: "Leeds", Temp: 5, FeelsLike: 2, Description: "overcast clouds", Icon: "☁️"}},
		News:    fakeNews{"Rail strike called off"},
	}
}

func testBriefer(src Sources, gen Generator) *Briefer {
	b := New(src, gen, time.UTC, nil)
	b.SetClock(func() time.Time { return morning })
	return b
}

func TestGather(t *testing.T) {
	d := testBriefer(testSources(), nil).Gather(context.Background(), "!room:x")

	if !d.CalendarOK || len(d.Events) != 2 {
		t.Errorf("events = %+v", d.Events)
	}
	if d.MemoryCount != 3 || d.Memories[1] != 1 || d.Memories[3] != 2 {
		t.Errorf("memories = %v (%d)", d.Memories, d.MemoryCount)
	}
	if d.ShoppingCount != 4 || strings.Join(d.ShoppingPreview, ",") != "milk,eggs,bread" {
		t.Errorf("shopping = %d %v", d.ShoppingCount, d.ShoppingPreview)
	}
	if got := d.memoriesSection(); got != "1 from last year, 2 from 3 years ago" {
		t.Errorf("memoriesSection = %q", got)
	}
	if got := d.shoppingSection(); got != "4 items (milk, eggs, bread (+1 more))" {
		t.Errorf("shoppingSection = %q", got)
	}
}

func TestGather_FailuresLeaveSectionsEmpty(t *testing.T) {
	src := testSources()
	src.Calendar = fakeCalendar{err: errors.New("caldav down")}
	src.Weather = fakeWeather{err: errors.New("no key")}

	d := testBriefer(src, nil).Gather(context.Background(), "!room:x")
	if d.CalendarOK || d.Weather != nil {
		t.Errorf("data = %+v", d)
	}
	if d.calendarSection() != "Calendar unavailable" || d.weatherSection() != "Nothing" {
		t.Error("failed sections not marked")
	}
}

func TestBuild_UsesModel(t *testing.T) {
	gen := &fakeGen{out: "Morning all! Dentist at 2."}
	text, _ := testBriefer(testSources(), gen).Build(context.Background(), "!room:x")

	if text != "🌅 **Morning Briefing**\n\nMorning all! Dentist at 2." {
		t.Errorf("text = %q", text)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("prompts = %d", len(gen.prompts))
	}
	p := gen.prompts[0]
	for _, want := range []string{"Tuesday 10 March", "14:00-15:00: Dentist @ High St", "Leeds: 5°C", "Rail strike", "2 from 3 years ago"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuild_FallbackWhenModelSilent(t *testing.T) {
	text, _ := testBriefer(testSources(), &fakeGen{}).Build(context.Background(), "!room:x")
	for _, want := range []string{
		"☀️ Good morning! It's Tuesday, March 10.",
		"📅 You have 2 event(s) today.",
		"☁️ Leeds: 5°C, overcast clouds",
		"  • Rail strike called off",
		"📸 3 photo memories from this day!",
		"🛒 4 items on the shopping list",
		"Have a great day! 💪",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("fallback missing %q:\n%s", want, text)
		}
	}
}

func TestFallback_Minimal(t *testing.T) {
	got := Fallback(Data{Day: morning})
	want := "☀️ Good morning! It's Tuesday, March 10.\n\nHave a great day! 💪"
	if got != want {
		t.Errorf("Fallback = %q, want %q", got, want)
	}
}

func TestParseTitles(t *testing.T) {
	rss := `<?xml version="1.0"?><rss version="2.0"><channel><title>News</title>
		<item><title>First</title></item><item><title>Second</title></item></channel></rss>`
	atom := `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"><title>Blog</title>
		<entry><title>Post</title></entry></feed>`

	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{"rss", rss, "First|Second", false},
		{"atom", atom, "Post", false},
		{"html", "<html><body>nope</body></html>", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTitles([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if strings.Join(got, "|") != tt.want {
				t.Errorf("titles = %v", got)
			}
		})
	}
}

func TestNewsReader_Headlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/a":
			io.WriteString(w, `<rss><channel><item><title> One </title></item><item><title></title></item></channel></rss>`)
		case "/b":
			io.WriteString(w, `<rss><channel><item><title>Two</title></item><item><title>Three</title></item><item><title>Four</title></item></channel></rss>`)
		}
	}))
	defer srv.Close()

	n := NewNewsReader([]string{srv.URL + "/broken", " ", srv.URL + "/a", srv.URL + "/b"}, 3, nil)
	got := n.Headlines(context.Background())
	if strings.Join(got, "|") != "One|Two|Three" {
		t.Errorf("Headlines = %v", got)
	}
}

func TestWeatherClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/data/2.5/weather" || q.Get("q") != "Leeds,GB" || q.Get("appid") != "k" || q.Get("units") != "metric" {
			t.Errorf("request = %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"name":"Leeds","main":{"temp":4.6,"feels_like":1.4,"humidity":81},
			"weather":[{"description":"overcast clouds","icon":"04d"}]}`)
	}))
	defer srv.Close()

	w, err := NewWeatherClient(srv.URL, "k", "Leeds", "GB", nil).Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if w.Temp != 5 || w.FeelsLike != 1 || w.Icon != "☁️" || w.Humidity != 81 {
		t.Errorf("weather = %+v", w)
	}
	if got := w.String(); got != "☁️ Leeds: 5°C (feels like 1°C), overcast clouds" {
		t.Errorf("String = %q", got)
	}

	if _, err := NewWeatherClient(srv.URL, "", "Leeds", "GB", nil).Current(context.Background()); err == nil {
		t.Error("expected error without key")
	}
}

func TestWeatherEmoji(t *testing.T) {
	if weatherEmoji("10d") != "🌦️" || weatherEmoji("zz") != "🌤️" {
		t.Error("emoji mapping wrong")
	}
}

func TestDailySpec(t *testing.T) {
	if got := DailySpec(7, 5); got != "5 7 * * *" {
		t.Errorf("DailySpec = %q", got)
	}
	s, err := NewSchedule(context.Background(), 7, 0, time.UTC, nil, func(context.Context) {})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Stop()
}
