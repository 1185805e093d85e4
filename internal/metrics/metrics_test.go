package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whispr/internal/domain"
)

func TestMetricsExposition(t *testing.T) {
	t.Parallel()

	m := New()
	m.SessionStarted()
	m.SessionEnded(domain.SessionReasonTranscriptDelivered)
	m.HotkeyDropped()
	m.ClipEncoded(1500 * time.Millisecond)
	m.TransportCompleted("deepgram", 300*time.Millisecond, nil)
	m.TransportCompleted("deepgram", time.Second, errors.New("boom"))
	m.TransportCompleted("", time.Second, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"whispr_sessions_started_total 1",
		`whispr_sessions_ended_total{reason="transcript_delivered"} 1`,
		"whispr_hotkeys_dropped_total 1",
		"whispr_clip_duration_seconds_count 1",
		`whispr_transport_duration_seconds_count{provider="deepgram"} 2`,
		`whispr_transport_duration_seconds_count{provider="unknown"} 1`,
		`whispr_transport_failures_total{provider="deepgram"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, body)
		}
	}
}

func TestMetricsInstancesAreIndependent(t *testing.T) {
	t.Parallel()

	a, b := New(), New()
	a.SessionStarted()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "whispr_sessions_started_total 0") {
		t.Fatalf("registries leaked between instances")
	}
}

func TestServerServesMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	m.SessionStarted()
	srv := NewServer("127.0.0.1:0", m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	addr, err := srv.Start()
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "whispr_sessions_started_total 1") {
		t.Fatalf("unexpected scrape: %d %s", resp.StatusCode, body)
	}
}
