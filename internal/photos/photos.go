// Package photos searches the family photo library (Immich) by meaning
// and digs up "on this day" memories.
package photos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/memu-digital/memu-bot/internal/httpkit"
)

// ErrNotConfigured means no photo library URL or API key was given.
var ErrNotConfigured = errors.New("photo library not configured")

// Asset is one photo or video.
type Asset struct {
	ID          string
	Filename    string
	TakenAt     time.Time
	City        string
	Country     string
	Description string
}

// Place returns "City, Country" with empty parts left out.
func (a Asset) Place() string {
	switch {
	case a.City != "" && a.Country != "":
		return a.City + ", " + a.Country
	case a.City != "":
		return a.City
	default:
		return a.Country
	}
}

type apiAsset struct {
	ID               string    `json:"id"`
	OriginalFileName string    `json:"originalFileName"`
	FileCreatedAt    time.Time `json:"fileCreatedAt"`
	LocalDateTime    time.Time `json:"localDateTime"`
	ExifInfo         *struct {
		City             string     `json:"city"`
		Country          string     `json:"country"`
		Description      string     `json:"description"`
		DateTimeOriginal *time.Time `json:"dateTimeOriginal"`
	} `json:"exifInfo"`
}

func (a apiAsset) asset() Asset {
	out := Asset{ID: a.ID, Filename: a.OriginalFileName, TakenAt: a.LocalDateTime}
	if out.TakenAt.IsZero() {
		out.TakenAt = a.FileCreatedAt
	}
	if a.ExifInfo != nil {
		out.City = a.ExifInfo.City
		out.Country = a.ExifInfo.Country
		out.Description = a.ExifInfo.Description
		if a.ExifInfo.DateTimeOriginal != nil && !a.ExifInfo.DateTimeOriginal.IsZero() {
			out.TakenAt = *a.ExifInfo.DateTimeOriginal
		}
	}
	return out
}

type smartSearchRequest struct {
	Query string `json:"query"`
	Size  int    `json:"size,omitempty"`
}

type smartSearchResponse struct {
	Assets struct {
		Total int        `json:"total"`
		Count int        `json:"count"`
		Items []apiAsset `json:"items"`
	} `json:"assets"`
}

type memory struct {
	Type string `json:"type"`
	Data struct {
		Year int `json:"year"`
	} `json:"data"`
	Assets []apiAsset `json:"assets"`
}

// Client talks to the Immich REST API.
type Client struct {
	rc         *resty.Client
	configured bool
	limit      int
	logger     *slog.Logger
}

// Config holds the photo library settings.
type Config struct {
	URL    string
	APIKey string
	Limit  int // default result cap for Search
}

// New creates a Client. With no URL or key every call returns
// ErrNotConfigured.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	rc := httpkit.NewRestClient(cfg.URL,
		httpkit.WithTimeout(20*time.Second),
		httpkit.WithLogger(logger),
	).SetHeader("x-api-key", cfg.APIKey)

	return &Client{
		rc:         rc,
		configured: cfg.URL != "" && cfg.APIKey != "",
		limit:      cfg.Limit,
		logger:     logger,
	}
}

// Configured reports whether the library can be queried.
func (c *Client) Configured() bool {
	return c != nil && c.configured
}

// Search runs a CLIP smart search for query. A non-positive limit uses
// the configured default.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Asset, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = c.limit
	}

	var result smartSearchResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(smartSearchRequest{Query: query, Size: limit}).
		SetResult(&result).
		Post("/api/search/smart")
	if err != nil {
		return nil, fmt.Errorf("photo search: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("photo search: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	assets := make([]Asset, 0, len(result.Assets.Items))
	for _, item := range result.Assets.Items {
		assets = append(assets, item.asset())
	}
	if len(assets) > limit {
		assets = assets[:limit]
	}
	return assets, nil
}

// OnThisDay returns photos taken on date's month and day in earlier
// years, newest year first.
func (c *Client) OnThisDay(ctx context.Context, date time.Time) ([]Asset, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var memories []memory
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("for", date.Format(time.RFC3339)).
		SetResult(&memories).
		Get("/api/memories")
	if err != nil {
		return nil, fmt.Errorf("photo memories: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("photo memories: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	var assets []Asset
	for _, m := range memories {
		if m.Type != "" && m.Type != "on_this_day" {
			continue
		}
		for _, a := range m.Assets {
			assets = append(assets, a.asset())
		}
	}
	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].TakenAt.After(assets[j].TakenAt)
	})
	return assets, nil
}

// Ping checks the server answers with the configured key.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	resp, err := c.rc.R().SetContext(ctx).Get("/api/server/ping")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode())
	}
	return nil
}

// Summary describes a set of search results for chat.
type Summary struct {
	Count     int
	Earliest  time.Time
	Latest    time.Time
	TopPlaces []string
}

// Summarize counts assets, finds their date range and lists up to three
// most common places.
func Summarize(assets []Asset) Summary {
	s := Summary{Count: len(assets)}
	places := map[string]int{}
	for _, a := range assets {
		if !a.TakenAt.IsZero() {
			if s.Earliest.IsZero() || a.TakenAt.Before(s.Earliest) {
				s.Earliest = a.TakenAt
			}
			if a.TakenAt.After(s.Latest) {
				s.Latest = a.TakenAt
			}
		}
		if p := a.Place(); p != "" {
			places[p]++
		}
	}

	for p := range places {
		s.TopPlaces = append(s.TopPlaces, p)
	}
	sort.Slice(s.TopPlaces, func(i, j int) bool {
		pi, pj := s.TopPlaces[i], s.TopPlaces[j]
		if places[pi] != places[pj] {
			return places[pi] > places[pj]
		}
		return pi < pj
	})
	if len(s.TopPlaces) > 3 {
		s.TopPlaces = s.TopPlaces[:3]
	}
	return s
}

// String renders the summary as one line, e.g.
// "12 photos from Mar 2023 to Aug 2024, mostly in Leeds, Whitby".
func (s Summary) String() string {
	if s.Count == 0 {
		return "no photos"
	}
	noun := "photos"
	if s.Count == 1 {
		noun = "photo"
	}
	out := fmt.Sprintf("%d %s", s.Count, noun)
	if !s.Earliest.IsZero() {
		from, to := s.Earliest.Format("Jan 2006"), s.Latest.Format("Jan 2006")
		if from == to {
			out += " from " + from
		} else {
			out += " from " + from + " to " + to
		}
	}
	if len(s.TopPlaces) > 0 {
		out += ", mostly in " + strings.Join(s.TopPlaces, "; ")
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
