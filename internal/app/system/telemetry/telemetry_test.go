package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Checkin(CheckinWithin)
	m.Checkin(CheckinWithin)
	m.Checkin(CheckinOutside)
	m.XPAppended("task_verified", -40)
	m.TaskTransition("claimed")
	m.Scan(ScanVerified)

	body := scrape(t, m)
	for _, want := range []string{
		`volunteerhub_checkin_attempts_total{outcome="within"} 2`,
		`volunteerhub_checkin_attempts_total{outcome="outside"} 1`,
		`volunteerhub_xp_appended_total{source="task_verified"} 1`,
		`volunteerhub_xp_points_total{source="task_verified"} 40`,
		`volunteerhub_task_transitions_total{to="claimed"} 1`,
		`volunteerhub_identity_scans_total{outcome="verified"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Checkin(CheckinWithin)
	m.XPAppended("x", 1)
	m.Scan(ScanIgnored)
	m.TaskTransition("open")
	m.XPRepaired()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil Handler status = %d, want 404", rec.Code)
	}
}
