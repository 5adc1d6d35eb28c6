package calendar

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-ical"
)

const (
	davHome          = "/dav.php/calendars/alice/"
	davPrincipal     = "/dav.php/principals/alice/"
	davBaikalPrinc   = "/dav.php/principals/users/alice/"
	davFamilyPath    = davHome + "family/"
	davCreatedFamily = davHome + "Family/"
)

// davServer answers just enough CalDAV for discovery, REPORT, PUT and
// MKCALENDAR, the way Baikal does.
type davServer struct {
	t              *testing.T
	principalFails bool
	mkcalStatus    int
	calendars      []string

	mu          sync.Mutex
	requests    []string
	mkcalBody   string
	reportDepth string
	reportBody  string
	putPath     string
	putType     string
	putBody     string
}

func (d *davServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if user, pass, ok := r.BasicAuth(); !ok || user != "alice" || pass != "secret" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, r.Method+" "+r.URL.Path)

	switch {
	case r.Method == "PROPFIND" && strings.TrimSuffix(r.URL.Path, "/") == "/dav.php":
		if d.principalFails {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		writeMultistatus(w, davResponse("/dav.php/",
			`<d:current-user-principal><d:href>`+davPrincipal+`</d:href></d:current-user-principal>`))
	case r.Method == "PROPFIND" && (r.URL.Path == davPrincipal || r.URL.Path == davBaikalPrinc):
		writeMultistatus(w, davResponse(r.URL.Path,
			`<c:calendar-home-set><d:href>`+davHome+`</d:href></c:calendar-home-set>`))
	case r.Method == "PROPFIND" && r.URL.Path == davHome:
		if r.Header.Get("Depth") != "1" {
			d.t.Errorf("home PROPFIND depth = %q", r.Header.Get("Depth"))
		}
		home := davResponse(davHome, `<d:resourcetype><d:collection/></d:resourcetype>`)
		writeMultistatus(w, home+strings.Join(d.calendars, ""))
	case r.Method == "MKCALENDAR":
		d.mkcalBody = string(body)
		status := d.mkcalStatus
		if status == 0 {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
	case r.Method == "REPORT":
		d.reportDepth = r.Header.Get("Depth")
		d.reportBody = string(body)
		writeMultistatus(w, davResponse(r.URL.Path+"dentist.ics",
			`<c:calendar-data><![CDATA[`+dentistICS(d.t)+`]]></c:calendar-data>`))
	case r.Method == http.MethodPut:
		d.putPath = r.URL.Path
		d.putType = r.Header.Get("Content-Type")
		d.putBody = string(body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusCreated)
	default:
		d.t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		http.Error(w, "not allowed", http.StatusMethodNotAllowed)
	}
}

func (d *davServer) sawRequest(req string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.requests {
		if r == req {
			return true
		}
	}
	return false
}

func davResponse(href, props string) string {
	return `<d:response><d:href>` + href + `</d:href><d:propstat><d:prop>` + props +
		`</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`
}

func davCalendar(href, name string, comps ...string) string {
	var set strings.Builder
	for _, c := range comps {
		set.WriteString(`<c:comp name="` + c + `"/>`)
	}
	return davResponse(href,
		`<d:resourcetype><d:collection/><c:calendar/></d:resourcetype>`+
			`<d:displayname>`+name+`</d:displayname>`+
			`<c:supported-calendar-component-set>`+set.String()+`</c:supported-calendar-component-set>`)
}

func writeMultistatus(w http.ResponseWriter, responses string) {
	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusMultiStatus)
	io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?>`+
		`<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">`+
		responses+`</d:multistatus>`)
}

func dentistICS(t *testing.T) string {
	var buf bytes.Buffer
	cal := encodeEvent("dentist@test", NewEvent{Summary: "Dentist", Start: at(11, 15, 0), End: at(11, 16, 0)}, testNow)
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		t.Errorf("encode ics: %v", err)
	}
	return buf.String()
}

func startDAV(t *testing.T, d *davServer) (*httptest.Server, Config) {
	t.Helper()
	d.t = t
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return srv, Config{URL: srv.URL + "/dav.php/", Username: "alice", Password: "secret"}
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name           string
		server         *davServer
		wantPath       string
		wantPrincipal  string
		wantMkcalendar bool
	}{
		{
			name: "first event calendar",
			server: &davServer{calendars: []string{
				davCalendar(davHome+"tasks/", "Tasks", "VTODO"),
				davCalendar(davFamilyPath, "Family", "VEVENT", "VTODO"),
			}},
			wantPath:      davFamilyPath,
			wantPrincipal: davPrincipal,
		},
		{
			name: "principal refused uses baikal path",
			server: &davServer{principalFails: true, calendars: []string{
				davCalendar(davFamilyPath, "Family", "VEVENT"),
			}},
			wantPath:      davFamilyPath,
			wantPrincipal: davBaikalPrinc,
		},
		{
			name: "no event calendar creates Family",
			server: &davServer{calendars: []string{
				davCalendar(davHome+"tasks/", "Tasks", "VTODO"),
			}},
			wantPath:       davCreatedFamily,
			wantPrincipal:  davPrincipal,
			wantMkcalendar: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, cfg := startDAV(t, tt.server)

			src, err := connect(context.Background(), srv.Client(), cfg, slog.Default())
			if err != nil {
				t.Fatalf("connect: %v", err)
			}
			if src.path != tt.wantPath {
				t.Errorf("calendar path = %q, want %q", src.path, tt.wantPath)
			}
			if !tt.server.sawRequest("PROPFIND " + tt.wantPrincipal) {
				t.Errorf("home set not looked up at %s; requests: %v", tt.wantPrincipal, tt.server.requests)
			}

			made := tt.server.sawRequest("MKCALENDAR " + davCreatedFamily)
			if made != tt.wantMkcalendar {
				t.Errorf("MKCALENDAR sent = %v, want %v", made, tt.wantMkcalendar)
			}
			if tt.wantMkcalendar {
				body := tt.server.mkcalBody
				if !strings.Contains(body, "<D:displayname>Family</D:displayname>") || !strings.Contains(body, `<C:comp name="VEVENT"/>`) {
					t.Errorf("MKCALENDAR body = %s", body)
				}
			}
		})
	}
}

func TestConnect_CreateRefused(t *testing.T) {
	d := &davServer{mkcalStatus: http.StatusForbidden}
	srv, cfg := startDAV(t, d)

	_, err := connect(context.Background(), srv.Client(), cfg, slog.Default())
	if !errors.Is(err, ErrCalendarUnavailable) {
		t.Fatalf("err = %v, want ErrCalendarUnavailable", err)
	}
}

func TestCaldavSource_QueryAndPut(t *testing.T) {
	d := &davServer{calendars: []string{davCalendar(davFamilyPath, "Family", "VEVENT")}}
	srv, cfg := startDAV(t, d)

	src, err := connect(context.Background(), srv.Client(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	cals, err := src.query(context.Background(), at(11, 0, 0), at(12, 0, 0))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !d.sawRequest("REPORT " + davFamilyPath) {
		t.Errorf("no REPORT on the calendar; requests: %v", d.requests)
	}
	if d.reportDepth != "1" {
		t.Errorf("REPORT depth = %q", d.reportDepth)
	}
	for _, want := range []string{"calendar-query", `name="VEVENT"`, `start="20260311T000000Z"`, `end="20260312T000000Z"`} {
		if !strings.Contains(d.reportBody, want) {
			t.Errorf("REPORT body missing %s:\n%s", want, d.reportBody)
		}
	}
	if len(cals) != 1 {
		t.Fatalf("calendars = %d, want 1", len(cals))
	}
	events := cals[0].Events()
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	if got, _ := events[0].Props.Text(ical.PropSummary); got != "Dentist" {
		t.Errorf("summary = %q", got)
	}

	if err := src.put(context.Background(), "new.ics", cals[0]); err != nil {
		t.Fatalf("put: %v", err)
	}
	if d.putPath != davFamilyPath+"new.ics" {
		t.Errorf("PUT path = %q", d.putPath)
	}
	if !strings.HasPrefix(d.putType, "text/calendar") {
		t.Errorf("PUT content type = %q", d.putType)
	}
	if !strings.Contains(d.putBody, "SUMMARY:Dentist") {
		t.Errorf("PUT body = %s", d.putBody)
	}
}
