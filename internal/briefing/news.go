package briefing

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memu-digital/memu-bot/internal/httpkit"
)

// rssFeed is RSS 2.0.
type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
		} `xml:"item"`
	} `xml:"channel"`
}

// atomFeed covers publishers that only offer Atom.
type atomFeed struct {
	XMLName xml.Name `xml:"feed"`
	Entries []struct {
		Title string `xml:"title"`
	} `xml:"entry"`
}

// parseTitles returns the item titles of an RSS or Atom document in
// feed order.
func parseTitles(data []byte) ([]string, error) {
	var rss rssFeed
	if err := xml.Unmarshal(data, &rss); err == nil && rss.XMLName.Local == "rss" {
		titles := make([]string, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			titles = append(titles, it.Title)
		}
		return titles, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(data, &atom); err == nil && atom.XMLName.Local == "feed" {
		titles := make([]string, 0, len(atom.Entries))
		for _, e := range atom.Entries {
			titles = append(titles, e.Title)
		}
		return titles, nil
	}

	return nil, fmt.Errorf("unrecognized feed format (expected RSS 2.0 or Atom)")
}

// NewsReader collects headlines from RSS feeds.
type NewsReader struct {
	feeds  []string
	max    int
	client *http.Client
	logger *slog.Logger
}

// NewNewsReader creates a reader for feeds, returning at most max
// headlines in total.
func NewNewsReader(feeds []string, max int, logger *slog.Logger) *NewsReader {
	if logger == nil {
		logger = slog.Default()
	}
	if max <= 0 {
		max = 3
	}
	var clean []string
	for _, f := range feeds {
		if f = strings.TrimSpace(f); f != "" {
			clean = append(clean, f)
		}
	}
	return &NewsReader{
		feeds:  clean,
		max:    max,
		client: httpkit.NewClient(httpkit.WithTimeout(10*time.Second), httpkit.WithLogger(logger)),
		logger: logger,
	}
}

// Headlines walks the feeds in order until max titles are collected.
// Feeds that fail are skipped.
func (n *NewsReader) Headlines(ctx context.Context) []string {
	var out []string
	for _, feed := range n.feeds {
		if len(out) >= n.max {
			break
		}
		titles, err := n.fetch(ctx, feed)
		if err != nil {
			n.logger.Debug("news feed skipped", "feed", feed, "error", err)
			continue
		}
		for _, t := range titles {
			if t = strings.TrimSpace(t); t == "" {
				continue
			}
			out = append(out, t)
			if len(out) >= n.max {
				break
			}
		}
	}
	return out
}

func (n *NewsReader) fetch(ctx context.Context, feedURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}
	return parseTitles(body)
}
