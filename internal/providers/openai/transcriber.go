// Package openai submits clips through the official OpenAI SDK.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"whispr/internal/audio"
	"whispr/internal/domain"
)

const ProviderName = "openai"

type Config struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for a compatible gateway.
	BaseURL  string
	Model    string
	Language string
	Prompt   string
}

type Transcriber struct {
	client openai.Client
	cfg    Config
}

func NewTranscriber(cfg Config, httpClient *http.Client) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = string(openai.AudioModelWhisper1)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Failed attempts are surfaced to the user rather than retried.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Transcriber{client: openai.NewClient(opts...), cfg: cfg}
}

func (t *Transcriber) Submit(ctx context.Context, clip audio.EncodedClip) (domain.TranscriptionResult, error) {
	result := domain.TranscriptionResult{Provider: ProviderName}
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return result, fmt.Errorf("%w: OPENAI_API_KEY is not configured", domain.ErrTransport)
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(clip.Bytes()), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(t.cfg.Model),
	}
	if lang := strings.TrimSpace(t.cfg.Language); lang != "" && !strings.EqualFold(lang, "auto") {
		params.Language = openai.String(lang)
	}
	if t.cfg.Prompt != "" {
		params.Prompt = openai.String(t.cfg.Prompt)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return result, fmt.Errorf("%w: openai transcription: %v", domain.ErrTransport, err)
	}
	result.Text = resp.Text
	return result, nil
}
