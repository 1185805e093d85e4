package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"whispr/internal/audio"
	"whispr/internal/domain"
	"whispr/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func equalCalls(got []string, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func equalReasons(got []domain.SessionStateReason, want []domain.SessionStateReason) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

type fakeHotkeys struct {
	log    *callLog
	events chan domain.HotkeyEvent

	mu         sync.Mutex
	suppressed map[domain.KeySymbol]bool
	suppresses int
}

func (f *fakeHotkeys) Events() <-chan domain.HotkeyEvent { return f.events }

func (f *fakeHotkeys) Suppress(identity domain.KeySymbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.suppressed == nil {
		f.suppressed = map[domain.KeySymbol]bool{}
	}
	f.suppressed[identity] = true
	f.suppresses++
	f.log.add("suppress")
	return nil
}

func (f *fakeHotkeys) Resume(identity domain.KeySymbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.suppressed, identity)
	f.log.add("resume")
	return nil
}

func (f *fakeHotkeys) suppressCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suppresses
}

func (f *fakeHotkeys) suppressedNow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.suppressed) > 0
}

type fakeIndicator struct {
	log *callLog
	err error

	mu    sync.Mutex
	idles int
}

func (f *fakeIndicator) ShowActive() error {
	f.log.add("active")
	return f.err
}

func (f *fakeIndicator) ShowIdle() error {
	f.mu.Lock()
	f.idles++
	f.mu.Unlock()
	f.log.add("idle")
	return f.err
}

func (f *fakeIndicator) idleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idles
}

type fakeCaptures struct {
	log    *callLog
	err    error
	stream audio.Stream

	mu        sync.Mutex
	attempts  int
	sessions  []*fakeSession
	onFailure func(string, error)
	active    int
	peak      int
}

func (f *fakeCaptures) Begin(_ context.Context, _ ports.DeviceSelector, onFailure func(string, error)) (ports.CaptureSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	f.log.add("begin")
	if f.err != nil {
		return nil, f.err
	}
	if f.active > 0 {
		return nil, domain.ErrSessionConflict
	}
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	session := &fakeSession{
		id:     "session-" + strconv.Itoa(len(f.sessions)+1),
		owner:  f,
		stream: f.stream,
		state:  domain.SessionStateCapturing,
	}
	f.sessions = append(f.sessions, session)
	f.onFailure = onFailure
	return session, nil
}

func (f *fakeCaptures) released() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

func (f *fakeCaptures) begins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeCaptures) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func (f *fakeCaptures) failure() func(string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onFailure == nil {
		return func(string, error) {}
	}
	return f.onFailure
}

func (f *fakeCaptures) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

type fakeSession struct {
	id     string
	owner  *fakeCaptures
	stream audio.Stream

	mu        sync.Mutex
	state     domain.SessionState
	finalized time.Time
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Finalize(context.Context) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.SessionStateCapturing {
		return audio.Stream{}, errors.New("session is not capturing")
	}
	s.state = domain.SessionStateIdle
	s.finalized = time.Now()
	s.owner.log.add("finalize")
	s.owner.released()
	return s.stream, nil
}

func (s *fakeSession) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.SessionStateAborted {
		return nil
	}
	wasCapturing := s.state == domain.SessionStateCapturing
	s.state = domain.SessionStateAborted
	s.owner.log.add("abort")
	if wasCapturing {
		s.owner.released()
	}
	return nil
}

func (s *fakeSession) finalizedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

type fakeTransport struct {
	log    *callLog
	result domain.TranscriptionResult
	err    error

	mu    sync.Mutex
	clips []audio.EncodedClip
}

func (f *fakeTransport) Submit(_ context.Context, clip audio.EncodedClip) (domain.TranscriptionResult, error) {
	f.mu.Lock()
	f.clips = append(f.clips, clip)
	f.mu.Unlock()
	f.log.add("submit")
	if f.err != nil {
		return domain.TranscriptionResult{Provider: f.result.Provider}, f.err
	}
	return f.result, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clips)
}

func (f *fakeTransport) lastClip() audio.EncodedClip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clips[len(f.clips)-1]
}

type fakeResults struct {
	log *callLog
	err error

	mu          sync.Mutex
	transcripts []domain.Transcript
}

func (f *fakeResults) Deliver(_ context.Context, transcript domain.Transcript) error {
	f.log.add("deliver")
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.transcripts = append(f.transcripts, transcript)
	f.mu.Unlock()
	return nil
}

func (f *fakeResults) snapshot() []domain.Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Transcript(nil), f.transcripts...)
}

type stateEvent struct {
	state  domain.CoordinatorState
	reason domain.SessionStateReason
}

type errorEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu      sync.Mutex
	states  []stateEvent
	errors  []errorEvent
	results []domain.Transcript
}

func (f *fakeEventSink) SessionStateChanged(state domain.CoordinatorState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptReady(transcript domain.Transcript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, transcript)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errorEvent{code: code, detail: detail})
}

func (f *fakeEventSink) reasons() []domain.SessionStateReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SessionStateReason, 0, len(f.states))
	for _, s := range f.states {
		out = append(out, s.reason)
	}
	return out
}

func (f *fakeEventSink) snapshotErrors() []errorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errorEvent(nil), f.errors...)
}

func (f *fakeEventSink) transcripts() []domain.Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Transcript(nil), f.results...)
}

type fakeTelemetry struct {
	mu       sync.Mutex
	drops    int
	failures int
}

func (f *fakeTelemetry) SessionStarted()                        {}
func (f *fakeTelemetry) SessionEnded(domain.SessionStateReason) {}
func (f *fakeTelemetry) ClipEncoded(time.Duration)              {}

func (f *fakeTelemetry) HotkeyDropped() {
	f.mu.Lock()
	f.drops++
	f.mu.Unlock()
}

func (f *fakeTelemetry) TransportCompleted(_ string, _ time.Duration, err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	f.failures++
	f.mu.Unlock()
}

func (f *fakeTelemetry) dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drops
}

func (f *fakeTelemetry) transportFailures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}
