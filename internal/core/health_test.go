package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func runHealth(t *testing.T, checks ...HealthCheck) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthChecks = checks

	w := httptest.NewRecorder()
	srv.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	return w.Code, body
}

func TestHandleHealth_NoChecks(t *testing.T) {
	status, body := runHealth(t)
	if status != http.StatusOK || body.Status != "healthy" {
		t.Errorf("expected healthy 200, got %d %+v", status, body)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	status, body := runHealth(t, &MockHealthCheck{CheckName: "database"})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body.Components["database"].Status != "healthy" {
		t.Errorf("unexpected components %+v", body.Components)
	}
}

func TestHandleHealth_FailingCheck(t *testing.T) {
	status, body := runHealth(t,
		&MockHealthCheck{CheckName: "database", Err: errors.New("connection refused")},
		&MockHealthCheck{CheckName: "other"},
	)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if body.Components["database"].Message != "connection refused" {
		t.Errorf("unexpected database component %+v", body.Components["database"])
	}
	if body.Components["other"].Status != "healthy" {
		t.Errorf("healthy check reported %+v", body.Components["other"])
	}
}

func TestHandleHealth_SlowCheckTimesOut(t *testing.T) {
	start := time.Now()
	status, body := runHealth(t, &MockHealthCheck{CheckName: "database", Delay: time.Minute})
	if time.Since(start) > healthCheckTimeout+time.Second {
		t.Error("health check exceeded its deadline")
	}
	if status != http.StatusServiceUnavailable || body.Components["database"].Status != "unhealthy" {
		t.Errorf("expected unhealthy database, got %d %+v", status, body)
	}
}

type panicCheck struct{}

func (panicCheck) Name() string                  { return "panicky" }
func (panicCheck) Check(_ context.Context) error { panic("check exploded") }

func TestHandleHealth_PanickingCheck(t *testing.T) {
	status, body := runHealth(t, panicCheck{})
	if status != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", status)
	}
	if body.Components["panicky"].Status != "unhealthy" {
		t.Errorf("unexpected component %+v", body.Components["panicky"])
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestPingCheck(t *testing.T) {
	p := PingCheck{CheckName: "database", Target: fakePinger{err: errors.New("down")}}
	if p.Name() != "database" {
		t.Errorf("unexpected name %q", p.Name())
	}
	if err := p.Check(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
