package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"kin-go/internal/kin"
)

func TestRecorder(t *testing.T) {
	t.Parallel()
	r := NewRecorder(false)

	r.ObservationIngested(kin.SourceEmail, kin.ActionCreated)
	r.ObservationIngested(kin.SourceEmail, kin.ActionCreated)
	r.ObservationIngested(kin.SourceSMS, kin.ActionPending)
	r.ResolutionDecided(kin.OutcomeMatched, kin.ReasonEmailExact)
	r.PendingResolved(kin.PendingConfirmed)
	r.AdapterFetched("mail", "ok", 12, 250*time.Millisecond)
	r.AdapterFetched("mail", "partial", 3, time.Second)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"email created", testutil.ToFloat64(r.observations.WithLabelValues("email", "created")), 2},
		{"sms pending", testutil.ToFloat64(r.observations.WithLabelValues("sms", "pending")), 1},
		{"matched by email", testutil.ToFloat64(r.resolutions.WithLabelValues("matched", "email_exact")), 1},
		{"confirmed", testutil.ToFloat64(r.pending.WithLabelValues("confirmed")), 1},
		{"ok fetches", testutil.ToFloat64(r.fetches.WithLabelValues("mail", "ok")), 1},
		{"partial fetches", testutil.ToFloat64(r.fetches.WithLabelValues("mail", "partial")), 1},
		{"fetched observations", testutil.ToFloat64(r.fetchedObs.WithLabelValues("mail")), 15},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(r.fetchDuration); n != 1 {
		t.Errorf("fetch duration series = %d, want 1", n)
	}
}

func TestRecorder_Handler(t *testing.T) {
	t.Parallel()
	r := NewRecorder(false)
	r.RequestServed(http.MethodGet, "/api/people/:id", http.StatusOK, 5*time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	want := `kin_http_requests_total{method="GET",route="/api/people/:id",status="200"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("exposition missing %q:\n%s", want, body)
	}
}

func TestNewRecorder_Independent(t *testing.T) {
	t.Parallel()
	a := NewRecorder(true)
	b := NewRecorder(true)
	a.PendingResolved(kin.PendingRejected)

	if got := testutil.ToFloat64(b.pending.WithLabelValues("rejected")); got != 0 {
		t.Errorf("second recorder saw %v, want 0", got)
	}
}
