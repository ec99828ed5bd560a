package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snapetech/iptvgw/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	metrics.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	metrics.TunerAllocationsTotal.WithLabelValues("allocated").Inc()
	body := scrape(t)
	if !strings.Contains(body, "iptvgw_tuner_allocations_total") {
		t.Errorf("expected iptvgw_tuner_allocations_total in exposition, got:\n%s", body)
	}
}

func TestSetTunerState_OnlyCurrentStateIsOne(t *testing.T) {
	metrics.SetTunerState("t0", "streaming")
	body := scrape(t)

	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, `iptvgw_tuner_state{`) || !strings.Contains(line, `tuner_id="t0"`) {
			continue
		}
		if strings.Contains(line, `state="streaming"`) {
			if !strings.HasSuffix(line, " 1") {
				t.Errorf("expected streaming state to be 1, got %q", line)
			}
		} else if !strings.HasSuffix(line, " 0") {
			t.Errorf("expected non-current state to be 0, got %q", line)
		}
	}
}
