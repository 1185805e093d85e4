package capture

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"whispr/internal/ports"
)

func TestFFMPEGProviderStreamsFloatSamples(t *testing.T) {
	t.Parallel()

	// 1.0 and -0.5 as little-endian float32.
	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf '\\x00\\x00\\x80\\x3f\\x00\\x00\\x00\\xbf'\nsleep 2\n")
	provider := NewFFMPEGProvider(FFMPEGOptions{Command: script})

	handle, err := provider.OpenInput(context.Background(), ports.DeviceSelector{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if f := handle.Format(); f.SampleRateHz != 16000 || f.Channels != 1 {
		t.Fatalf("unexpected default format: %+v", f)
	}

	var got []float32
	deadline := time.After(time.Second)
	for len(got) < 2 {
		select {
		case chunk, ok := <-handle.Chunks():
			if !ok {
				t.Fatalf("chunks closed early: %v", handle.Err())
			}
			got = append(got, chunk...)
		case <-deadline:
			t.Fatalf("timed out waiting for samples, got %v", got)
		}
	}
	if got[0] != 1 || got[1] != -0.5 {
		t.Fatalf("unexpected samples: %v", got)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, ok := <-handle.Chunks(); ok {
		t.Fatalf("expected chunks to be closed after Close")
	}
	if handle.Err() != nil {
		t.Fatalf("requested stop must not be reported as failure: %v", handle.Err())
	}
}

func TestFFMPEGProviderEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	provider := NewFFMPEGProvider(FFMPEGOptions{Command: script})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := provider.OpenInput(ctx, ports.DeviceSelector{})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFFMPEGProviderUnexpectedExitFailsHandle(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "short.sh", "#!/usr/bin/env bash\nsleep 0.4\necho 'device gone' 1>&2\nexit 1\n")
	provider := NewFFMPEGProvider(FFMPEGOptions{Command: script})

	handle, err := provider.OpenInput(context.Background(), ports.DeviceSelector{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer handle.Close()

	select {
	case _, ok := <-handle.Chunks():
		if ok {
			t.Fatalf("expected no samples")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("chunks never closed")
	}
	if handle.Err() == nil || !strings.Contains(handle.Err().Error(), "device gone") {
		t.Fatalf("expected failure with stderr detail, got %v", handle.Err())
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestStringsTrimSpaceSafe(t *testing.T) {
	t.Parallel()

	if got := stringsTrimSpaceSafe("  hi\n"); got != "hi" {
		t.Fatalf("unexpected trim result: %q", got)
	}
}

func TestChunkHandleDropsWhenFull(t *testing.T) {
	t.Parallel()

	h := newChunkHandle(ports.DeviceFormat{SampleRateHz: 16000, Channels: 1}, 1, nil)
	h.push([]float32{1})
	h.push([]float32{2})
	if err := h.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	h.push([]float32{3})

	var got []float32
	for chunk := range h.Chunks() {
		got = append(got, chunk...)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected only the first chunk, got %v", got)
	}
	if h.dropped != 1 {
		t.Fatalf("expected one dropped chunk, got %d", h.dropped)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
