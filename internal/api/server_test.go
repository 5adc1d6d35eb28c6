package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/memu-digital/memu-bot/internal/backup"
	"github.com/memu-digital/memu-bot/internal/connwatch"
)

type fakeHealth map[string]connwatch.ServiceStatus

func (f fakeHealth) Status() map[string]connwatch.ServiceStatus { return f }

type fakeBackups struct {
	st  backup.Status
	err error
}

func (f fakeBackups) Status(context.Context) (backup.Status, error) { return f.st, f.err }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		services   fakeHealth
		wantCode   int
		wantStatus string
	}{
		{"all up", fakeHealth{"matrix": {Name: "matrix", Ready: true}}, http.StatusOK, "healthy"},
		{"optional down", fakeHealth{
			"matrix": {Name: "matrix", Ready: true},
			"immich": {Name: "immich", LastError: "502"},
		}, http.StatusOK, "degraded"},
		{"critical down", fakeHealth{
			"matrix": {Name: "matrix", LastError: "refused"},
		}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer("", 0, tt.services, nil, nil)
			s.SetCritical("matrix", "database")
			rec := serve(t, s, "/health")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
		})
	}
}

func TestRequestIDEchoed(t *testing.T) {
	s := NewServer("", 0, nil, nil, nil)
	rec := serve(t, s, "/")
	if id := rec.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated request id = %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "abc" {
		t.Error("caller's request id not kept")
	}
	if !strings.Contains(rec.Body.String(), `"go_version"`) {
		t.Errorf("version body = %s", rec.Body)
	}
}

func TestMetricsExposed(t *testing.T) {
	rec := serve(t, NewServer("", 0, nil, nil, nil), "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "memu_backup_health") {
		t.Errorf("metrics code=%d", rec.Code)
	}
}

func TestBackupStatus(t *testing.T) {
	rec := serve(t, NewServer("", 0, nil, nil, nil), "/v1/backup/status")
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled code = %d", rec.Code)
	}

	s := NewServer("", 0, nil, fakeBackups{st: backup.Status{Health: backup.Warning, BackupCount: 3}}, nil)
	rec = serve(t, s, "/v1/backup/status")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"health":"warning"`) {
		t.Errorf("status = %d %s", rec.Code, rec.Body)
	}

	s = NewServer("", 0, nil, fakeBackups{err: errors.New("db locked")}, nil)
	if rec = serve(t, s, "/v1/backup/status"); rec.Code != http.StatusInternalServerError {
		t.Errorf("error code = %d", rec.Code)
	}
}
