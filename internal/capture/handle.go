package capture

import (
	"log/slog"
	"sync"

	"whispr/internal/ports"
)

const defaultQueueDepth = 64

// chunkHandle turns a push-style producer into a ports.DeviceHandle backed by
// a bounded channel. Chunks that do not fit are dropped, never blocking the
// producer.
type chunkHandle struct {
	format ports.DeviceFormat
	chunks chan []float32
	logger *slog.Logger
	stop   func() error

	mu      sync.Mutex
	closed  bool
	err     error
	dropped int

	closeOnce sync.Once
	closeErr  error
}

func newChunkHandle(format ports.DeviceFormat, depth int, logger *slog.Logger) *chunkHandle {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &chunkHandle{
		format: format,
		chunks: make(chan []float32, depth),
		logger: logger,
	}
}

func (h *chunkHandle) Format() ports.DeviceFormat { return h.format }

func (h *chunkHandle) Chunks() <-chan []float32 { return h.chunks }

func (h *chunkHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// push copies the chunk; producers may reuse their buffer afterwards.
func (h *chunkHandle) push(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	copied := append([]float32(nil), chunk...)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.chunks <- copied:
	default:
		h.dropped++
	}
}

func (h *chunkHandle) fail(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
	h.finish()
}

func (h *chunkHandle) finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.chunks)
	}
}

func (h *chunkHandle) Close() error {
	h.closeOnce.Do(func() {
		if h.stop != nil {
			h.closeErr = h.stop()
		}
		h.finish()

		h.mu.Lock()
		dropped := h.dropped
		h.mu.Unlock()
		if dropped > 0 {
			h.logger.Warn("input chunks dropped; consumer fell behind", "dropped", dropped)
		}
	})
	return h.closeErr
}
