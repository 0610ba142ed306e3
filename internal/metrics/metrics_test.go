package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestControllerMetrics(t *testing.T) {
	c := New()

	c.StateChanged("", "starting")
	c.StateChanged("starting", "active")
	c.RoundStarted(1, "initial")
	c.RoundStarted(1, "retry")
	c.RoundStarted(2, "advance")
	c.Probe(true, nil)
	c.Probe(false, nil)
	c.Probe(false, errors.New("timeout"))
	c.TickSkipped()
	c.PostAction("power_off", nil)
	c.PostAction("follow_up", errors.New("refused"))

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"state active", testutil.ToFloat64(c.state.WithLabelValues("active")), 1},
		{"state starting", testutil.ToFloat64(c.state.WithLabelValues("starting")), 0},
		{"transitions to active", testutil.ToFloat64(c.transitions.WithLabelValues("active")), 1},
		{"round", testutil.ToFloat64(c.round), 2},
		{"retries", testutil.ToFloat64(c.roundsStarted.WithLabelValues("retry")), 1},
		{"active probes", testutil.ToFloat64(c.probes.WithLabelValues(ResultActive)), 1},
		{"inactive probes", testutil.ToFloat64(c.probes.WithLabelValues(ResultInactive)), 1},
		{"error probes", testutil.ToFloat64(c.probes.WithLabelValues(ResultError)), 1},
		{"skipped", testutil.ToFloat64(c.ticksSkipped), 1},
		{"power off ok", testutil.ToFloat64(c.postActions.WithLabelValues("power_off", "ok")), 1},
		{"follow up error", testutil.ToFloat64(c.postActions.WithLabelValues("follow_up", "error")), 1},
	}
	for _, tt := range checks {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestStreamMetrics(t *testing.T) {
	c := New()
	c.StreamConnected(true)
	c.StreamEvent("log")
	c.StreamEvent("log")
	c.StreamEvent("vehicle")
	c.StreamDecodeFailed()
	c.EventDropped()

	if got := testutil.ToFloat64(c.streamConnected); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.streamEvents.WithLabelValues("log")); got != 2 {
		t.Errorf("log events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.decodeFailures); got != 1 {
		t.Errorf("decode failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.eventsDropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}

	c.StreamConnected(false)
	if got := testutil.ToFloat64(c.streamConnected); got != 0 {
		t.Errorf("connected = %v, want 0", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.RoundStarted(3, "advance")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"gamepilot_controller_round 3",
		`gamepilot_controller_rounds_started_total{reason="advance"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.TickSkipped()
	if got := testutil.ToFloat64(b.ticksSkipped); got != 0 {
		t.Errorf("second collector saw %v skips", got)
	}
}
