package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"whispr/internal/audio"
	"whispr/internal/domain"
)

func TestTranscriberSubmit(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		path     string
		model    string
		language string
		calls    int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		mu.Lock()
		path = r.URL.Path
		model = r.FormValue("model")
		language = r.FormValue("language")
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"from the sdk"}`))
	}))
	defer server.Close()

	tr := NewTranscriber(Config{APIKey: "sk-test", BaseURL: server.URL + "/v1/", Language: "de"}, server.Client())
	result, err := tr.Submit(context.Background(), testClip(t))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.Text != "from the sdk" || result.Provider != ProviderName {
		t.Fatalf("unexpected result: %+v", result)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/v1/audio/transcriptions" {
		t.Fatalf("unexpected path: %s", path)
	}
	if model != "whisper-1" || language != "de" {
		t.Fatalf("unexpected form: model=%q language=%q", model, language)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestTranscriberDoesNotRetry(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer server.Close()

	tr := NewTranscriber(Config{APIKey: "sk-test", BaseURL: server.URL + "/v1/"}, server.Client())
	if _, err := tr.Submit(context.Background(), testClip(t)); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestTranscriberRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := NewTranscriber(Config{}, nil).Submit(context.Background(), testClip(t)); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func testClip(t *testing.T) audio.EncodedClip {
	t.Helper()
	clip, err := audio.Encode(audio.NewStream(make([]float32, 160), 16000, 1), audio.Canonical())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return clip
}
