package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"whispr/internal/domain"
	"whispr/internal/ports"
)

func TestManagerBeginFinalizeReturnsChunksInOrder(t *testing.T) {
	t.Parallel()

	handle := newFakeHandle(ports.DeviceFormat{SampleRateHz: 44100, Channels: 2})
	handle.chunks <- []float32{1, 2}
	handle.chunks <- []float32{3, 4}
	manager := NewManager(&fakeProvider{handles: []*fakeHandle{handle}}, Options{})

	session, err := manager.Begin(context.Background(), ports.DeviceSelector{}, nil)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if session.State() != domain.SessionStateCapturing {
		t.Fatalf("expected capturing, got %s", session.State())
	}

	stream, err := session.Finalize(context.Background())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	got := stream.Samples()
	want := []float32{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if stream.SampleRate() != 44100 || stream.Channels() != 2 {
		t.Fatalf("stream lost device format: %d Hz %d ch", stream.SampleRate(), stream.Channels())
	}
	if session.State() != domain.SessionStateIdle {
		t.Fatalf("expected idle after finalize, got %s", session.State())
	}
	if handle.closes() != 1 {
		t.Fatalf("expected device to be closed once, got %d", handle.closes())
	}
	if manager.Active() {
		t.Fatalf("expected manager slot to be released")
	}
}

func TestManagerBeginWhileCapturingConflicts(t *testing.T) {
	t.Parallel()

	first := newFakeHandle(ports.DeviceFormat{SampleRateHz: 16000, Channels: 1})
	second := newFakeHandle(ports.DeviceFormat{SampleRateHz: 16000, Channels: 1})
	provider := &fakeProvider{handles: []*fakeHandle{first, second}}
	manager := NewManager(provider, Options{})

	session, err := manager.Begin(context.Background(), ports.DeviceSelector{}, nil)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	_, err = manager.Begin(context.Background(), ports.DeviceSelector{}, nil)
	if !errors.Is(err, domain.ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}
	if session.State() != domain.SessionStateCapturing {
		t.Fatalf("existing session was disturbed: %s", session.State())
	}
	if first.closes() != 0 {
		t.Fatalf("existing device was closed")
	}
	if provider.opened() != 1 {
		t.Fatalf("expected the second begin not to open a device, opened %d", provider.opened())
	}

	if _, err := session.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	next, err := manager.Begin(context.Background(), ports.DeviceSelector{}, nil)
	if err != nil {
		t.Fatalf("begin after finalize failed: %v", err)
	}
	_ = next.Abort()
}

func TestSessionFinalizeWithoutChunksReturnsEmptyStream(t *testing.T) {
	t.Parallel()

	handle := newFakeHandle(ports.DeviceFormat{SampleRateHz: 16000, Channels: 1})
	manager := NewManager(&fakeProvider{handles: []*fakeHandle{handle}}, Options{})

	session, err := manager.Begin(context.Background(), ports.DeviceSelector{}, nil)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	stream, err := session.Finalize(context.Background())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if stream.Len() != 0 {
		t.Fatalf("expected empty stream, got %d samples", stream.Len())
	}
}

func TestSessionAbortReleasesDevice(t *testing.T) {
	t.Parallel()

	handle := newFakeHandle(ports.DeviceFormat{SampleRateHz: 16000, Channels: 1})
	handle.produce(1000)
	manager := NewManager(&fakeProvider{handles: []*fakeHandle{handle}}, Options{})

	session, err := manager.Begin(context.Background(), ports.DeviceSelector{}, nil)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := session.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if session.State() != domain.SessionStateAborted {
		t.Fatalf("expected aborted, got %s", session.State())
	}
	if handle.closes() != 1 {
		t.Fatalf("expected device closed once, got %d", handle.closes())
	}
	if manager.Active() {
		t.Fatalf("expected manager slot to be released")
	}
	if err := session.Abort(); err != nil {
		t.Fatalf("second abort should be a no-op, got %v", err)
	}
	if _, err := session.Finalize(context.Background()); !errors.Is(err, ErrSessionAborted) {
		t.Fatalf("expected ErrSessionAborted, got %v", err)
	}
	if handle.closes() != 1 {
		t.Fatalf("device closed again after abort: %d", handle.closes())
	}
}

func TestSessionFinalizeTwiceFails(t *testing.T) {
	t.Parallel()

	handle := newFakeHandle(ports.DeviceFormat{SampleRateHz: 16000, Channels: 1})
	manager := NewManager(&fakeProvider{handles: []*fakeHandle{handle}}, Options{})
	session, err := manager.Begin(context.Background(), ports.DeviceSelector{}, nil)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, err := session.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if _, err := session.Finalize(context.Background()); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("expected ErrNotCapturing, got %v", err)
	}
}

// Chunks carry consecutive values; the finalized stream must hold a gapless
// prefix of them with no duplicates, and nothing may land after return.
func TestSessionFinalizeDuringProduction(t *testing.T) {
	t.Parallel()

	handle := newFakeHandle(ports.DeviceFormat{SampleRateHz: 16000, Channels: 1})
	handle.produce(1 << 20)
	manager := NewManager(&fakeProvider{handles: []*fakeHandle{handle}}, Options{})

	session, err := manager.Begin(context.Background(), ports.DeviceSelector{}, nil)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	stream, err := session.Finalize(context.Background())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	got := stream.Samples()
	if len(got) != handle.sent() {
		t.Fatalf("sent %d chunks but stream holds %d", handle.sent(), len(got))
	}
	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("sample %d = %f: chunk lost or duplicated", i, v)
		}
	}

	s := session.(*Session)
	s.mu.Lock()
	after := len(s.buf)
	s.mu.Unlock()
	if after != 0 {
		t.Fatalf("buffer grew after finalize: %d", after)
	}
}

func TestManagerBeginDeviceUnavailable(t *testing.T) {
	t.Parallel()

	manager := NewManager(&fakeProvider{err: errors.New("no such device")}, Options{})
	_, err := manager.Begin(context.Background(), ports.DeviceSelector{DeviceID: "usb"}, nil)
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if manager.Active() {
		t.Fatalf("failed begin must not hold the slot")
	}
}

func TestSessionDeviceFailureNotifies(t *testing.T) {
	t.Parallel()

	handle := newFakeHandle(ports.DeviceFormat{SampleRateHz: 16000, Channels: 1})
	manager := NewManager(&fakeProvider{handles: []*fakeHandle{handle}}, Options{})

	failures := make(chan error, 1)
	session, err := manager.Begin(context.Background(), ports.DeviceSelector{}, func(id string, err error) {
		failures <- err
	})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	handle.fail(errors.New("unplugged"))

	select {
	case err := <-failures:
		if !errors.Is(err, domain.ErrDeviceUnavailable) {
			t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("failure callback not invoked")
	}

	if err := session.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if manager.Active() {
		t.Fatalf("expected slot released after abort")
	}
}

func TestSessionFinalizeDoesNotReportFailure(t *testing.T) {
	t.Parallel()

	handle := newFakeHandle(ports.DeviceFormat{SampleRateHz: 16000, Channels: 1})
	manager := NewManager(&fakeProvider{handles: []*fakeHandle{handle}}, Options{})

	var mu sync.Mutex
	called := false
	session, err := manager.Begin(context.Background(), ports.DeviceSelector{}, func(string, error) {
		mu.Lock()
		called = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, err := session.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Fatalf("closing the device during finalize must not count as a failure")
	}
}

type fakeProvider struct {
	mu      sync.Mutex
	handles []*fakeHandle
	err     error
	calls   int
}

func (f *fakeProvider) OpenInput(_ context.Context, _ ports.DeviceSelector) (ports.DeviceHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.handles) {
		return nil, errors.New("no device handle configured")
	}
	handle := f.handles[f.calls]
	f.calls++
	return handle, nil
}

func (f *fakeProvider) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHandle struct {
	format ports.DeviceFormat
	chunks chan []float32
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	err        error
	closeCalls int
	sentCount  int
	endOnce    sync.Once
}

func newFakeHandle(format ports.DeviceFormat) *fakeHandle {
	return &fakeHandle{
		format: format,
		chunks: make(chan []float32, 16),
		stopCh: make(chan struct{}),
	}
}

func (f *fakeHandle) Format() ports.DeviceFormat { return f.format }

func (f *fakeHandle) Chunks() <-chan []float32 { return f.chunks }

func (f *fakeHandle) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.end()
	return nil
}

func (f *fakeHandle) end() {
	f.endOnce.Do(func() {
		close(f.stopCh)
		f.wg.Wait()
		close(f.chunks)
	})
}

func (f *fakeHandle) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.end()
}

func (f *fakeHandle) produce(n int) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for i := 0; i < n; i++ {
			select {
			case f.chunks <- []float32{float32(i)}:
				f.mu.Lock()
				f.sentCount++
				f.mu.Unlock()
			case <-f.stopCh:
				return
			}
		}
	}()
}

func (f *fakeHandle) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeHandle) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sentCount
}
