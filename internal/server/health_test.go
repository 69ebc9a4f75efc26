package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teemow/mailauth/internal/auth"
)

type stubKeeper struct {
	report auth.CycleReport
	ok     bool
}

func (s *stubKeeper) LastCycle() (auth.CycleReport, bool) {
	return s.report, s.ok
}

func serve(t *testing.T, h http.Handler) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(&stubKeeper{})
	h.SetShuttingDown()

	code, body := serve(t, h.LivenessHandler())
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body["status"] != healthStatusOK {
		t.Errorf("status field = %v, want %q", body["status"], healthStatusOK)
	}
}

func TestHealthChecker_ReadinessFollowsKeeper(t *testing.T) {
	h := NewHealthChecker(&stubKeeper{})

	code, body := serve(t, h.ReadinessHandler())
	if code != http.StatusServiceUnavailable {
		t.Errorf("before first pass: status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["keeper"] != healthStatusNotReady {
		t.Errorf("keeper check = %v, want %q", checks["keeper"], healthStatusNotReady)
	}

	h.ObserveCycle(auth.CycleReport{})
	if code, _ := serve(t, h.ReadinessHandler()); code != http.StatusOK {
		t.Errorf("after first pass: status = %d, want %d", code, http.StatusOK)
	}
	if !h.IsReady() {
		t.Error("IsReady() = false after first pass")
	}

	h.SetShuttingDown()
	code, body = serve(t, h.ReadinessHandler())
	if code != http.StatusServiceUnavailable {
		t.Errorf("shutting down: status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	checks, _ = body["checks"].(map[string]any)
	if checks["shutdown"] != healthStatusShuttingDown {
		t.Errorf("shutdown check = %v, want %q", checks["shutdown"], healthStatusShuttingDown)
	}
	if h.IsReady() {
		t.Error("IsReady() = true while shutting down")
	}
}

func TestHealthChecker_NoKeeperStartsReady(t *testing.T) {
	h := NewHealthChecker(nil)
	if !h.IsReady() {
		t.Error("IsReady() = false without a keeper")
	}
}

func TestHealthChecker_Detailed(t *testing.T) {
	tests := []struct {
		name       string
		keeper     *stubKeeper
		ready      bool
		wantCode   int
		wantStatus string
		wantCycle  bool
	}{
		{
			name:       "healthy pass",
			keeper:     &stubKeeper{ok: true, report: auth.CycleReport{Started: time.Now(), Accounts: 2}},
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: healthStatusOK,
			wantCycle:  true,
		},
		{
			name:       "failed refreshes",
			keeper:     &stubKeeper{ok: true, report: auth.CycleReport{Started: time.Now(), Accounts: 2, Failed: 1}},
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: healthStatusDegraded,
			wantCycle:  true,
		},
		{
			name:       "list error",
			keeper:     &stubKeeper{ok: true, report: auth.CycleReport{Err: errors.New("disk gone")}},
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: healthStatusDegraded,
			wantCycle:  true,
		},
		{
			name:       "no pass yet",
			keeper:     &stubKeeper{},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: healthStatusNotReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(tt.keeper)
			h.ready.Store(tt.ready)

			code, body := serve(t, h.DetailedHealthHandler())
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status field = %v, want %q", body["status"], tt.wantStatus)
			}
			if _, ok := body["last_cycle"]; ok != tt.wantCycle {
				t.Errorf("last_cycle present = %v, want %v", ok, tt.wantCycle)
			}
			if _, ok := body["uptime"]; !ok {
				t.Error("uptime missing")
			}
		})
	}
}
