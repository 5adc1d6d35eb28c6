package recall

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/memu-digital/memu-bot/internal/calendar"
	"github.com/memu-digital/memu-bot/internal/chathistory"
	"github.com/memu-digital/memu-bot/internal/household"
	"github.com/memu-digital/memu-bot/internal/photos"
)

var day = time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

type fakeFacts struct {
	facts []household.Fact
	items []household.ListItem
	err   error
}

func (f fakeFacts) SearchFacts(context.Context, string, string, int) ([]household.Fact, error) {
	return f.facts, f.err
}

func (f fakeFacts) SearchListItems(context.Context, string, string, int) ([]household.ListItem, error) {
	return f.items, f.err
}

type fakeChat struct {
	hits []chathistory.Hit
	err  error
}

func (f fakeChat) Search(context.Context, string, string, int) ([]chathistory.Hit, error) {
	return f.hits, f.err
}

type fakeCalendar struct {
	events []calendar.Event
	err    error
}

func (f fakeCalendar) SearchEvents(context.Context, string, int) ([]calendar.Event, error) {
	return f.events, f.err
}

type fakePhotos struct {
	assets []photos.Asset
	err    error
	block  bool
	panics bool
}

func (f fakePhotos) Search(ctx context.Context, _ string, _ int) ([]photos.Asset, error) {
	if f.panics {
		panic("immich exploded")
	}
	if f.block {
		<-ctx.Done()
		return f.assets, ctx.Err()
	}
	return f.assets, f.err
}

type fakeBrain struct {
	synthesis  string
	summary    string
	digests    []string
	summarized atomic.Int32
}

func (b *fakeBrain) SynthesizeCrossSilo(_ context.Context, _ string, digest string) string {
	b.digests = append(b.digests, digest)
	return b.synthesis
}

func (b *fakeBrain) Summarize(context.Context, string) string {
	b.summarized.Add(1)
	return b.summary
}

func boilerFact() household.Fact {
	return household.Fact{ID: 1, Text: "boiler code is 4512", Author: "@mum:memu.local", CreatedAt: day}
}

func boilerChat() chathistory.Hit {
	return chathistory.Hit{EventID: "$1", Sender: "@dad:memu.local", Body: "boiler man coming Tuesday", SentAt: day}
}

func TestRecall_NothingFound(t *testing.T) {
	brain := &fakeBrain{synthesis: "should not be used"}
	e := New(Sources{Facts: fakeFacts{}, Chat: fakeChat{}, Photos: fakePhotos{}}, brain, Config{}, nil)

	ans := e.Recall(context.Background(), "!r:x", "boiler")
	if ans.Text != "🤔 I couldn't find anything about 'boiler'" {
		t.Errorf("Text = %q", ans.Text)
	}
	if len(brain.digests) != 0 {
		t.Error("model called with nothing to synthesize")
	}
}

func TestRecall_SingleSiloFormatsDirectly(t *testing.T) {
	brain := &fakeBrain{synthesis: "should not be used"}
	e := New(Sources{Facts: fakeFacts{facts: []household.Fact{boilerFact()}}, Chat: fakeChat{}}, brain, Config{}, nil)

	ans := e.Recall(context.Background(), "!r:x", "boiler")
	want := "💡 Here's what I remember about 'boiler':\n\n• boiler code is 4512 (saved 2025-11-03)"
	if ans.Text != want {
		t.Errorf("Text = %q, want %q", ans.Text, want)
	}
	if ans.Synthesized || len(brain.digests) != 0 {
		t.Error("single silo should not be synthesized")
	}
}

func TestRecall_MultiSiloSynthesizes(t *testing.T) {
	brain := &fakeBrain{synthesis: "The boiler code is 4512 and the engineer comes Tuesday."}
	e := New(Sources{
		Facts: fakeFacts{facts: []household.Fact{boilerFact()}},
		Chat:  fakeChat{hits: []chathistory.Hit{boilerChat()}},
	}, brain, Config{}, nil)

	ans := e.Recall(context.Background(), "!r:x", "boiler")
	if !ans.Synthesized || ans.Text != "💡 The boiler code is 4512 and the engineer comes Tuesday." {
		t.Errorf("answer = %+v", ans)
	}
	if len(brain.digests) != 1 {
		t.Fatalf("digests = %d", len(brain.digests))
	}
	d := brain.digests[0]
	for _, want := range []string{"SAVED FACTS:", "boiler code is 4512", "CHAT MESSAGES:", "dad on 2025-11-03"} {
		if !strings.Contains(d, want) {
			t.Errorf("digest missing %q:\n%s", want, d)
		}
	}
}

func TestRecall_SynthesisFailureFallsBack(t *testing.T) {
	ev := calendar.Event{Summary: "Boiler service", Start: day.Add(48 * time.Hour), End: day.Add(49 * time.Hour)}
	e := New(Sources{
		Facts:    fakeFacts{facts: []household.Fact{boilerFact()}},
		Chat:     fakeChat{hits: []chathistory.Hit{boilerChat()}},
		Calendar: fakeCalendar{events: []calendar.Event{ev}},
	}, &fakeBrain{}, Config{}, nil)

	ans := e.Recall(context.Background(), "!r:x", "boiler")
	if ans.Synthesized {
		t.Error("Synthesized = true with empty model output")
	}
	iFacts := strings.Index(ans.Text, "📝 **Saved**")
	iChat := strings.Index(ans.Text, "💬 **Chat**")
	iCal := strings.Index(ans.Text, "📅 **Calendar**")
	if iFacts < 0 || iChat < iFacts || iCal < iChat {
		t.Errorf("sections out of order:\n%s", ans.Text)
	}
	if !strings.Contains(ans.Text, `• dad: "boiler man coming Tuesday" (2025-11-03)`) {
		t.Errorf("chat line missing:\n%s", ans.Text)
	}
	if !strings.Contains(ans.Text, "• Wed 5 Nov 2025 09:00-10:00: Boiler service") {
		t.Errorf("calendar line missing:\n%s", ans.Text)
	}
}

func TestRecall_FailingSilosDegradeQuietly(t *testing.T) {
	tests := []struct {
		name   string
		photos fakePhotos
	}{
		{"error", fakePhotos{err: errors.New("connection refused")}},
		{"panic", fakePhotos{panics: true}},
		{"timeout", fakePhotos{block: true, assets: []photos.Asset{{ID: "late"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Sources{
				Facts:  fakeFacts{facts: []household.Fact{boilerFact()}},
				Photos: tt.photos,
			}, &fakeBrain{}, Config{SiloTimeout: 50 * time.Millisecond}, nil)

			ans := e.Recall(context.Background(), "!r:x", "boiler")
			if len(ans.Results.Photos) != 0 {
				t.Errorf("photos leaked: %+v", ans.Results.Photos)
			}
			if !strings.HasPrefix(ans.Text, "💡 Here's what I remember about 'boiler'") {
				t.Errorf("Text = %q", ans.Text)
			}
			if strings.Contains(ans.Text, "photo") || strings.Contains(ans.Text, "refused") {
				t.Errorf("failure surfaced: %q", ans.Text)
			}
		})
	}
}

func TestRecall_FailingPhotosStillSynthesizesFactsAndCalendar(t *testing.T) {
	for name, ph := range map[string]fakePhotos{
		"error": {err: errors.New("immich: 502 bad gateway")},
		"panic": {panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			brain := &fakeBrain{synthesis: "The boiler code is 4512 and it is serviced next Monday."}
			e := New(Sources{
				Facts: fakeFacts{facts: []household.Fact{boilerFact()}},
				Calendar: fakeCalendar{events: []calendar.Event{{
					Summary: "Boiler service", Start: day.AddDate(0, 0, 7), End: day.AddDate(0, 0, 7).Add(time.Hour),
				}}},
				Photos: ph,
			}, brain, Config{}, nil)

			ans := e.Recall(context.Background(), "!r:x", "boiler")
			if !ans.Synthesized || ans.Text != "💡 The boiler code is 4512 and it is serviced next Monday." {
				t.Errorf("answer = %+v", ans)
			}
			if len(brain.digests) != 1 {
				t.Fatalf("digests = %d", len(brain.digests))
			}
			d := brain.digests[0]
			for _, want := range []string{"SAVED FACTS:", "CALENDAR EVENTS:", "Boiler service"} {
				if !strings.Contains(d, want) {
					t.Errorf("digest missing %q:\n%s", want, d)
				}
			}
			if strings.Contains(d, "PHOTOS:") {
				t.Errorf("failed photo silo in digest:\n%s", d)
			}
		})
	}
}

func TestRecall_LongAnswerSummarized(t *testing.T) {
	var facts []household.Fact
	for i := 0; i < 40; i++ {
		facts = append(facts, household.Fact{Text: strings.Repeat("boiler detail ", 5), CreatedAt: day})
	}

	brain := &fakeBrain{summary: "Lots of boiler notes; code 4512."}
	e := New(Sources{Facts: fakeFacts{facts: facts}}, brain, Config{}, nil)
	ans := e.Recall(context.Background(), "!r:x", "boiler")
	if !ans.Condensed || ans.Text != "💡 Lots of boiler notes; code 4512." {
		t.Errorf("answer = %q condensed=%v", ans.Text, ans.Condensed)
	}

	brain = &fakeBrain{}
	e = New(Sources{Facts: fakeFacts{facts: facts}}, brain, Config{}, nil)
	ans = e.Recall(context.Background(), "!r:x", "boiler")
	if ans.Condensed || !strings.HasPrefix(ans.Text, "💡 Here's what I remember") {
		t.Errorf("empty summary should keep the long answer, got condensed=%v", ans.Condensed)
	}
	if brain.summarized.Load() != 1 {
		t.Errorf("Summarize calls = %d", brain.summarized.Load())
	}
}

func TestGather_RunsConcurrently(t *testing.T) {
	e := New(Sources{
		Facts:    fakeFacts{},
		Chat:     fakeChat{},
		Calendar: fakeCalendar{},
		Photos:   fakePhotos{block: true},
	}, nil, Config{SiloTimeout: 100 * time.Millisecond}, nil)

	start := time.Now()
	e.Gather(context.Background(), "!r:x", "anything")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Gather took %v", elapsed)
	}
}

func TestHitSilos(t *testing.T) {
	r := Results{Items: []household.ListItem{{Item: "milk"}}, Photos: []photos.Asset{{ID: "a"}}}
	if got := r.HitSilos(); got != 2 {
		t.Errorf("HitSilos = %d, want 2", got)
	}
	if got := (Results{}).HitSilos(); got != 0 {
		t.Errorf("empty HitSilos = %d", got)
	}
}
