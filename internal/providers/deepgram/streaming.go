package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"whispr/internal/audio"
	"whispr/internal/domain"
)

const (
	ProviderName = "deepgram"

	defaultBaseURL    = "https://api.deepgram.com/v1"
	defaultModel      = "nova-2"
	defaultChunkBytes = 3200
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// ChunkBytes is the size of each binary audio frame sent upstream.
	ChunkBytes int
}

// Transport submits clips to Deepgram's live listen endpoint and collects
// the final transcript segments.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewTransport(cfg Config) *Transport {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = defaultChunkBytes
	}
	return &Transport{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (t *Transport) Submit(ctx context.Context, clip audio.EncodedClip) (domain.TranscriptionResult, error) {
	result := domain.TranscriptionResult{Provider: ProviderName}
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return result, fmt.Errorf("%w: DEEPGRAM_API_KEY is not configured", domain.ErrTransport)
	}

	wsURL, err := buildListenURL(t.cfg, clip.Format())
	if err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.cfg.APIKey)

	conn, _, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return result, fmt.Errorf("%w: failed to connect to Deepgram websocket: %v", domain.ErrTransport, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	session := &listenSession{
		conn:       conn,
		aggregator: newTranscriptAggregator(),
		done:       make(chan struct{}),
	}
	go session.readLoop()

	session.send(clip.Payload(), t.cfg.ChunkBytes)
	<-session.done
	_ = conn.Close()

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	if err := session.waitErr(); err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	result.Text = session.aggregator.Raw()
	return result, nil
}

type listenSession struct {
	conn       *websocket.Conn
	aggregator *transcriptAggregator
	done       chan struct{}

	errMu sync.Mutex
	err   error
}

// send writes the payload as binary frames followed by CloseStream. A write
// failure closes the connection so the read loop ends too.
func (s *listenSession) send(payload []byte, chunkBytes int) {
	for start := 0; start < len(payload); start += chunkBytes {
		end := min(start+chunkBytes, len(payload))
		if err := s.conn.WriteMessage(websocket.BinaryMessage, payload[start:end]); err != nil {
			s.setErr(fmt.Errorf("failed to send audio: %w", err))
			_ = s.conn.Close()
			return
		}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
		_ = s.conn.Close()
	}
}

func (s *listenSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *listenSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *listenSession) readLoop() {
	defer close(s.done)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}

		transcript := extractTranscript(response)
		if transcript == "" {
			continue
		}
		s.aggregator.Add(transcriptEvent{
			Text:  transcript,
			Final: response.IsFinal || response.SpeechFinal,
		})
	}
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(cfg Config, format audio.AudioFormat) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if format.SampleRateHz == 0 {
		format.SampleRateHz = audio.CanonicalSampleRateHz
	}
	if format.Channels == 0 {
		format.Channels = audio.CanonicalChannels
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", format.SampleRateHz))
	query.Set("channels", fmt.Sprintf("%d", format.Channels))
	query.Set("interim_results", "false")
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
