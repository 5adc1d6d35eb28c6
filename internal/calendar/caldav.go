package calendar

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/memu-digital/memu-bot/internal/httpkit"
)

// caldavSource is one calendar collection on a CalDAV server.
type caldavSource struct {
	client *caldav.Client
	path   string
}

// connect discovers the user's first event calendar: current user
// principal, then calendar home set, then the collection list. When the
// home set has no event calendar a "Family" one is created. Servers
// that refuse principal discovery (older Baikal) get the conventional
// /principals/users/<name>/ path instead.
func connect(ctx context.Context, hc *http.Client, cfg Config, logger *slog.Logger) (*caldavSource, error) {
	httpClient := webdav.HTTPClientWithBasicAuth(hc, cfg.Username, cfg.Password)
	client, err := caldav.NewClient(httpClient, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}

	logger.Info("connecting to calendar", "url", cfg.URL, "user", cfg.Username)

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		fallback, ferr := directPrincipal(cfg.URL, cfg.Username)
		if ferr != nil {
			return nil, fmt.Errorf("find principal: %w", err)
		}
		logger.Warn("principal discovery failed, trying direct path", "path", fallback, "error", err)
		principal = fallback
	}

	home, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home set for %s: %w", principal, err)
	}

	cals, err := client.FindCalendars(ctx, home)
	if err != nil {
		return nil, fmt.Errorf("list calendars in %s: %w", home, err)
	}

	for _, cal := range cals {
		if len(cal.SupportedComponentSet) == 0 || slices.Contains(cal.SupportedComponentSet, ical.CompEvent) {
			logger.Info("using calendar", "name", cal.Name, "path", cal.Path)
			return &caldavSource{client: client, path: cal.Path}, nil
		}
	}

	path := strings.TrimSuffix(home, "/") + "/" + defaultCalendarName + "/"
	logger.Info("no event calendar found, creating one", "path", path)
	if err := makeCalendar(ctx, httpClient, cfg.URL, path, defaultCalendarName); err != nil {
		return nil, fmt.Errorf("%w: create calendar in %s: %w", ErrCalendarUnavailable, home, err)
	}
	return &caldavSource{client: client, path: path}, nil
}

// defaultCalendarName is the collection created when the home set holds
// no event calendar.
const defaultCalendarName = "Family"

const mkcalendarBody = `<?xml version="1.0" encoding="utf-8"?>
<C:mkcalendar xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:set>
    <D:prop>
      <D:displayname>%s</D:displayname>
      <C:supported-calendar-component-set>
        <C:comp name="VEVENT"/>
      </C:supported-calendar-component-set>
    </D:prop>
  </D:set>
</C:mkcalendar>
`

// makeCalendar issues an RFC 4791 MKCALENDAR for path, which is resolved
// against the endpoint's scheme and host. go-webdav has no client call
// for it.
func makeCalendar(ctx context.Context, hc webdav.HTTPClient, endpoint, path, name string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	u.Path, u.RawPath = path, ""

	var escaped strings.Builder
	if err := xml.EscapeText(&escaped, []byte(name)); err != nil {
		return err
	}
	body := fmt.Sprintf(mkcalendarBody, escaped.String())

	req, err := http.NewRequestWithContext(ctx, "MKCALENDAR", u.String(), strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", `application/xml; charset="utf-8"`)

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("MKCALENDAR %s: %s: %s", path, resp.Status, httpkit.ReadErrorBody(resp.Body, 512))
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

// directPrincipal builds the Baikal-style principal path under the
// configured endpoint.
func directPrincipal(endpoint, username string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if username == "" {
		return "", fmt.Errorf("no username for direct principal")
	}
	return strings.TrimSuffix(u.Path, "/") + "/principals/users/" + url.PathEscape(username) + "/", nil
}

func (s *caldavSource) query(ctx context.Context, start, end time.Time) ([]*ical.Calendar, error) {
	q := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objs, err := s.client.QueryCalendar(ctx, s.path, q)
	if err != nil {
		return nil, err
	}
	cals := make([]*ical.Calendar, 0, len(objs))
	for _, obj := range objs {
		if obj.Data != nil {
			cals = append(cals, obj.Data)
		}
	}
	return cals, nil
}

func (s *caldavSource) put(ctx context.Context, name string, cal *ical.Calendar) error {
	_, err := s.client.PutCalendarObject(ctx, strings.TrimSuffix(s.path, "/")+"/"+name, cal)
	return err
}

func (s *caldavSource) ping(ctx context.Context) error {
	_, err := s.client.FindCurrentUserPrincipal(ctx)
	return err
}
