// Package whisperapi submits clips to any endpoint speaking the OpenAI
// audio transcription multipart protocol.
package whisperapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"whispr/internal/audio"
	"whispr/internal/domain"
)

const (
	ProviderName = "whisper-api"

	defaultEndpoint = "https://api.openai.com/v1/audio/transcriptions"
	defaultModel    = "whisper-1"
)

type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	// Language is an ISO code; empty or "auto" lets the backend detect it.
	Language string
	Prompt   string
	TextPath string
}

type Transport struct {
	cfg    Config
	client *http.Client
}

func NewTransport(cfg Config, client *http.Client) *Transport {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Transport{cfg: cfg, client: client}
}

func (t *Transport) Submit(ctx context.Context, clip audio.EncodedClip) (domain.TranscriptionResult, error) {
	result := domain.TranscriptionResult{Provider: ProviderName}

	body, contentType, err := t.form(clip)
	if err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, body)
	if err != nil {
		return result, fmt.Errorf("%w: create request: %v", domain.ErrTransport, err)
	}
	req.Header.Set("Content-Type", contentType)
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return result, fmt.Errorf("%w: send request: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("%w: API error %d: %s", domain.ErrTransport, resp.StatusCode, formatResponse(payload))
	}

	text, err := extractText(payload, t.cfg.TextPath)
	if err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	result.Text = text
	return result, nil
}

func (t *Transport) form(clip audio.EncodedClip) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(clip.Bytes()); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	fields := [][2]string{{"model", t.cfg.Model}}
	if lang := strings.TrimSpace(t.cfg.Language); lang != "" && !strings.EqualFold(lang, "auto") {
		fields = append(fields, [2]string{"language", lang})
	}
	if t.cfg.Prompt != "" {
		fields = append(fields, [2]string{"prompt", t.cfg.Prompt})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func formatResponse(b []byte) string {
	if len(b) == 0 {
		return "<empty>"
	}
	const maxText = 1000
	const maxBin = 256

	if utf8.Valid(b) {
		s := strings.TrimSpace(string(b))
		if len(s) > maxText {
			return fmt.Sprintf("%s... (truncated, total %d bytes)", s[:maxText], len(b))
		}
		return s
	}
	if len(b) > maxBin {
		return fmt.Sprintf("<binary %d bytes, prefix hex: %s...>", len(b), hex.EncodeToString(b[:maxBin]))
	}
	return fmt.Sprintf("<binary %d bytes, hex: %s>", len(b), hex.EncodeToString(b))
}
