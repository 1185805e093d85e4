package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"whispr/internal/domain"
)

const (
	DefaultShortcut = "CommandOrControl+Shift+Space"

	BackendPortAudio = "portaudio"
	BackendFFMPEG    = "ffmpeg"

	ProviderLocal      = "local"
	ProviderWhisperAPI = "whisper-api"
	ProviderOpenAI     = "openai"
	ProviderDeepgram   = "deepgram"
)

// Config stores runtime configuration for the recorder.
type Config struct {
	Hotkey        HotkeyConfig        `yaml:"hotkey"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	History       HistoryConfig       `yaml:"history"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`

	// Path is the file the configuration was read from; empty when none existed.
	Path string `yaml:"-"`
}

type HotkeyConfig struct {
	Shortcut string `yaml:"shortcut"`
	Mode     string `yaml:"mode"`
}

type AudioConfig struct {
	Backend         string        `yaml:"backend"`
	InputDevice     string        `yaml:"input_device"`
	FFMPEGCommand   string        `yaml:"ffmpeg_command"`
	InputFormat     string        `yaml:"input_format"`
	SampleRate      int           `yaml:"sample_rate"`
	Channels        int           `yaml:"channels"`
	QueueDepth      int           `yaml:"queue_depth"`
	FramesPerBuffer int           `yaml:"frames_per_buffer"`
	TailGrace       time.Duration `yaml:"tail_grace"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
}

type TranscriptionConfig struct {
	Provider    string        `yaml:"provider"`
	Timeout     time.Duration `yaml:"timeout"`
	EnableHTTP2 bool          `yaml:"enable_http2"`
	VerifySSL   bool          `yaml:"verify_ssl"`

	Local      LocalConfig      `yaml:"local"`
	WhisperAPI WhisperAPIConfig `yaml:"whisper_api"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
}

type LocalConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Dir     string   `yaml:"dir"`

	// HelperPastes lets the helper paste on its own instead of the delivery sink.
	HelperPastes bool `yaml:"helper_pastes"`
}

type WhisperAPIConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Prompt   string `yaml:"prompt"`
	TextPath string `yaml:"text_path"`
}

type OpenAIConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Prompt   string `yaml:"prompt"`
}

type DeepgramConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base_url"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	SmartFormat bool   `yaml:"smart_format"`
}

type DeliveryConfig struct {
	CopyToClipboard bool          `yaml:"copy_to_clipboard"`
	AutoPaste       bool          `yaml:"auto_paste"`
	PasteDelay      time.Duration `yaml:"paste_delay"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Limit   int    `yaml:"limit"`
}

type NotificationsConfig struct {
	Enabled      bool `yaml:"enabled"`
	OnTranscript bool `yaml:"on_transcript"`
}

type MetricsConfig struct {
	// Address is the /metrics listen address; empty disables the listener.
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load resolves configuration from defaults, the optional YAML file and
// environment variables, in that order.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Defaults(home)
	path := envOrDefault("WHISPR_CONFIG_FILE", filepath.Join(home, ".config", "whispr", "config.yaml"))
	if err := cfg.mergeFile(path); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults(home string) Config {
	return Config{
		Hotkey: HotkeyConfig{
			Shortcut: DefaultShortcut,
			Mode:     string(domain.RecordingModePressAndHold),
		},
		Audio: AudioConfig{
			Backend:       BackendPortAudio,
			FFMPEGCommand: "ffmpeg",
			InputFormat:   "pulse",
			SampleRate:    16000,
			Channels:      1,
			QueueDepth:    64,
			TailGrace:     125 * time.Millisecond,
			DrainTimeout:  2 * time.Second,
		},
		Transcription: TranscriptionConfig{
			Provider:    ProviderLocal,
			Timeout:     60 * time.Second,
			EnableHTTP2: true,
			VerifySSL:   true,
			Local:       LocalConfig{Command: "whispr-transcribe"},
			Deepgram: DeepgramConfig{
				APIBaseURL:  "https://api.deepgram.com/v1",
				Model:       "nova-2",
				SmartFormat: true,
			},
		},
		Delivery: DeliveryConfig{
			AutoPaste:  true,
			PasteDelay: 80 * time.Millisecond,
		},
		History: HistoryConfig{
			Path:  filepath.Join(home, ".local", "share", "whispr", "history"),
			Limit: 200,
		},
		Notifications: NotificationsConfig{Enabled: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.Path = path
	return nil
}

func (c *Config) applyEnv() {
	c.Hotkey.Shortcut = envOrDefault("WHISPR_HOTKEY", c.Hotkey.Shortcut)
	c.Hotkey.Mode = envOrDefault("WHISPR_RECORDING_MODE", c.Hotkey.Mode)

	c.Audio.Backend = envOrDefault("WHISPR_AUDIO_BACKEND", c.Audio.Backend)
	c.Audio.InputDevice = envOrDefault("WHISPR_AUDIO_INPUT_DEVICE", c.Audio.InputDevice)
	c.Audio.FFMPEGCommand = envOrDefault("WHISPR_FFMPEG_COMMAND", c.Audio.FFMPEGCommand)
	c.Audio.InputFormat = envOrDefault("WHISPR_AUDIO_INPUT_FORMAT", c.Audio.InputFormat)
	c.Audio.SampleRate = envOrDefaultInt("WHISPR_SAMPLE_RATE", c.Audio.SampleRate)
	c.Audio.Channels = envOrDefaultInt("WHISPR_CHANNELS", c.Audio.Channels)
	c.Audio.TailGrace = envOrDefaultMillis("WHISPR_TAIL_GRACE_MS", c.Audio.TailGrace)

	t := &c.Transcription
	t.Provider = envOrDefault("WHISPR_TRANSCRIPTION_PROVIDER", t.Provider)
	t.Timeout = envOrDefaultMillis("WHISPR_TRANSCRIPTION_TIMEOUT_MS", t.Timeout)
	t.EnableHTTP2 = envOrDefaultBool("WHISPR_ENABLE_HTTP2", t.EnableHTTP2)
	t.VerifySSL = envOrDefaultBool("WHISPR_VERIFY_SSL", t.VerifySSL)
	t.Local.Command = envOrDefault("WHISPR_LOCAL_HELPER", t.Local.Command)
	t.WhisperAPI.Endpoint = envOrDefault("WHISPR_WHISPER_API_ENDPOINT", t.WhisperAPI.Endpoint)
	t.WhisperAPI.APIKey = firstNonEmpty(os.Getenv("WHISPR_WHISPER_API_KEY"), t.WhisperAPI.APIKey)
	t.WhisperAPI.Model = envOrDefault("WHISPR_WHISPER_API_MODEL", t.WhisperAPI.Model)
	t.OpenAI.APIKey = firstNonEmpty(os.Getenv("WHISPR_OPENAI_API_KEY"), os.Getenv("OPENAI_API_KEY"), t.OpenAI.APIKey)
	t.OpenAI.BaseURL = envOrDefault("OPENAI_BASE_URL", t.OpenAI.BaseURL)
	t.OpenAI.Model = envOrDefault("WHISPR_OPENAI_MODEL", t.OpenAI.Model)
	t.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", t.Deepgram.APIKey)
	t.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", t.Deepgram.APIBaseURL)
	t.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", t.Deepgram.Model)
	t.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", t.Deepgram.Language)
	t.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", t.Deepgram.SmartFormat)

	c.Delivery.CopyToClipboard = envOrDefaultBool("WHISPR_COPY_TO_CLIPBOARD", c.Delivery.CopyToClipboard)
	c.Delivery.AutoPaste = envOrDefaultBool("WHISPR_AUTO_PASTE", c.Delivery.AutoPaste)

	c.History.Enabled = envOrDefaultBool("WHISPR_HISTORY_ENABLED", c.History.Enabled)
	c.History.Path = envOrDefault("WHISPR_HISTORY_PATH", c.History.Path)
	c.History.Limit = envOrDefaultInt("WHISPR_HISTORY_LIMIT", c.History.Limit)

	c.Notifications.Enabled = envOrDefaultBool("WHISPR_NOTIFICATIONS", c.Notifications.Enabled)
	c.Metrics.Address = envOrDefault("WHISPR_METRICS_ADDR", c.Metrics.Address)

	c.Logging.Level = envOrDefault("WHISPR_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envOrDefault("WHISPR_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = envOrDefault("WHISPR_LOG_OUTPUT", c.Logging.Output)
}

func (c *Config) normalize() {
	c.Hotkey.Shortcut = strings.TrimSpace(c.Hotkey.Shortcut)
	if c.Hotkey.Shortcut == "" {
		c.Hotkey.Shortcut = DefaultShortcut
	}
	c.Audio.Backend = strings.ToLower(strings.TrimSpace(c.Audio.Backend))
	c.Transcription.Provider = strings.ToLower(strings.TrimSpace(c.Transcription.Provider))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.QueueDepth <= 0 {
		c.Audio.QueueDepth = 64
	}
	if c.Transcription.Timeout <= 0 {
		c.Transcription.Timeout = 60 * time.Second
	}
	if c.History.Limit < 0 {
		c.History.Limit = 0
	}
}

// Validate checks every section and reports the first problem found.
func (c Config) Validate() error {
	checks := []struct {
		section string
		check   func() error
	}{
		{"hotkey", c.Hotkey.validate},
		{"audio", c.Audio.validate},
		{"transcription", c.Transcription.validate},
		{"delivery", c.Delivery.validate},
		{"history", c.History.validate},
		{"logging", c.Logging.validate},
	}
	for _, s := range checks {
		if err := s.check(); err != nil {
			return fmt.Errorf("invalid %s config: %w", s.section, err)
		}
	}
	return nil
}

func (h HotkeyConfig) validate() error {
	if h.Shortcut == "" {
		return errors.New("shortcut is required")
	}
	_, err := domain.ParseRecordingMode(h.Mode)
	return err
}

func (a AudioConfig) validate() error {
	switch a.Backend {
	case BackendPortAudio:
	case BackendFFMPEG:
		if strings.TrimSpace(a.FFMPEGCommand) == "" {
			return errors.New("ffmpeg_command is required for the ffmpeg backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", a.Backend)
	}
	if a.TailGrace < 0 {
		return errors.New("tail_grace must not be negative")
	}
	if a.TailGrace > 5*time.Second {
		return fmt.Errorf("tail_grace %s is too long", a.TailGrace)
	}
	return nil
}

func (t TranscriptionConfig) validate() error {
	switch t.Provider {
	case ProviderLocal:
		if strings.TrimSpace(t.Local.Command) == "" {
			return errors.New("local.command is required for the local provider")
		}
	case ProviderWhisperAPI, ProviderOpenAI, ProviderDeepgram:
	default:
		return fmt.Errorf("unknown provider %q", t.Provider)
	}
	return nil
}

func (d DeliveryConfig) validate() error {
	if d.PasteDelay < 0 {
		return errors.New("paste_delay must not be negative")
	}
	return nil
}

func (h HistoryConfig) validate() error {
	if h.Enabled && strings.TrimSpace(h.Path) == "" {
		return errors.New("path is required when history is enabled")
	}
	return nil
}

func (l LoggingConfig) validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q", l.Format)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultMillis reads a non-negative millisecond count.
func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
