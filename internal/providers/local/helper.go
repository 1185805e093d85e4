// Package local runs an on-device transcription helper as a child process
// and exchanges one JSON line per clip with it.
package local

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"whispr/internal/audio"
	"whispr/internal/domain"
)

const (
	ProviderName = "local"

	maxResponseBytes = 4 << 20
	stderrTailBytes  = 2048
)

var ErrHelperClosed = errors.New("transcription helper is closed")

type Config struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	// AutoPaste is forwarded to the helper, which may paste on its own.
	AutoPaste bool
	Logger    *slog.Logger
}

type request struct {
	Audio     string `json:"audio"`
	AutoPaste bool   `json:"autoPaste"`
}

type response struct {
	Transcription *string `json:"transcription"`
	Error         string  `json:"error"`
}

// Helper owns the child process. It is started on first use and restarted
// after it dies; requests are serialized.
type Helper struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	proc   *helperProcess
}

type helperProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *tailBuffer
}

func NewHelper(cfg Config) *Helper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Helper{cfg: cfg, logger: cfg.Logger}
}

func (h *Helper) Submit(ctx context.Context, clip audio.EncodedClip) (domain.TranscriptionResult, error) {
	result := domain.TranscriptionResult{Provider: ProviderName}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return result, fmt.Errorf("%w: %v", domain.ErrTransport, ErrHelperClosed)
	}
	proc, err := h.ensureStartedLocked()
	if err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	line, err := json.Marshal(request{
		Audio:     base64.StdEncoding.EncodeToString(clip.Bytes()),
		AutoPaste: h.cfg.AutoPaste,
	})
	if err != nil {
		return result, fmt.Errorf("%w: encode request: %v", domain.ErrTransport, err)
	}
	if _, err := proc.stdin.Write(append(line, '\n')); err != nil {
		h.stopLocked()
		return result, fmt.Errorf("%w: write to helper: %v", domain.ErrTransport, err)
	}

	type readResult struct {
		line []byte
		err  error
	}
	read := make(chan readResult, 1)
	go func() {
		line, err := readLine(proc.stdout)
		read <- readResult{line: line, err: err}
	}()

	var got readResult
	select {
	case got = <-read:
	case <-ctx.Done():
		h.stopLocked()
		<-read
		return result, fmt.Errorf("%w: %v", domain.ErrTransport, ctx.Err())
	}
	if got.err != nil {
		h.stopLocked()
		detail := proc.stderr.String()
		if detail != "" {
			return result, fmt.Errorf("%w: helper exited: %v: %s", domain.ErrTransport, got.err, detail)
		}
		return result, fmt.Errorf("%w: helper exited: %v", domain.ErrTransport, got.err)
	}

	var resp response
	if err := json.Unmarshal(got.line, &resp); err != nil {
		return result, fmt.Errorf("%w: invalid helper response: %v", domain.ErrTransport, err)
	}
	if resp.Error != "" {
		return result, fmt.Errorf("%w: %s", domain.ErrTransport, resp.Error)
	}
	if resp.Transcription == nil {
		return result, fmt.Errorf("%w: helper response has no transcription", domain.ErrTransport)
	}
	result.Text = *resp.Transcription
	return result, nil
}

// Close kills the helper. Later submissions fail.
func (h *Helper) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.stopLocked()
	return nil
}

func (h *Helper) ensureStartedLocked() (*helperProcess, error) {
	if h.proc != nil {
		return h.proc, nil
	}
	if strings.TrimSpace(h.cfg.Command) == "" {
		return nil, errors.New("local helper command is not configured")
	}

	cmd := exec.Command(h.cfg.Command, h.cfg.Args...)
	cmd.Dir = h.cfg.Dir
	if len(h.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), h.cfg.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("helper stdout: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start helper %q: %w", h.cfg.Command, err)
	}
	h.logger.Info("transcription helper started", "command", h.cfg.Command, "pid", cmd.Process.Pid)

	h.proc = &helperProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 64*1024),
		stderr: stderr,
	}
	return h.proc, nil
}

func (h *Helper) stopLocked() {
	proc := h.proc
	if proc == nil {
		return
	}
	h.proc = nil

	_ = proc.stdin.Close()
	if proc.cmd.Process != nil {
		_ = proc.cmd.Process.Kill()
	}
	err := proc.cmd.Wait()
	h.logger.Info("transcription helper stopped", "error", err)
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxResponseBytes {
			return nil, fmt.Errorf("helper response exceeds %d bytes", maxResponseBytes)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
