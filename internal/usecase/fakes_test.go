package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"pitchroom/internal/domain"
	"pitchroom/internal/ports"
)

type fakeBackend struct {
	mu sync.Mutex

	startErr    error
	qnaErr      error
	stopErr     error
	analysisErr error
	payload     json.RawMessage
	gate        chan struct{}
	startGate   chan struct{}

	startCalls int
	qnaCalls   int
	stopCalls  int
	requests   []domain.AnalysisRequest
}

func (f *fakeBackend) StartSession(ctx context.Context) error {
	f.mu.Lock()
	f.startCalls++
	gate := f.startGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startErr
}

func (f *fakeBackend) BeginQnA(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qnaCalls++
	return f.qnaErr
}

func (f *fakeBackend) StopSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeBackend) GenerateAnalysis(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.AnalysisResult{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analysisErr != nil {
		return domain.AnalysisResult{}, f.analysisErr
	}
	return domain.AnalysisResult{Payload: f.payload}, nil
}

func (f *fakeBackend) counts() (start, qna, stop, analysis int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.qnaCalls, f.stopCalls, len(f.requests)
}

func (f *fakeBackend) lastRequest(t *testing.T) domain.AnalysisRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatalf("expected an analysis request")
	}
	return f.requests[len(f.requests)-1]
}

type fakeDialer struct {
	mu       sync.Mutex
	errs     map[domain.ChannelKind]error
	opened   []*fakeChannelStream
	attempts int
	// gate holds every Open until closed, ignoring the caller's context.
	gate chan struct{}
}

func (f *fakeDialer) Open(_ context.Context, kind domain.ChannelKind) (ports.ChannelStream, error) {
	f.mu.Lock()
	f.attempts++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	stream := newFakeChannelStream(kind)
	f.opened = append(f.opened, stream)
	return stream, nil
}

func (f *fakeDialer) setErr(kind domain.ChannelKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[domain.ChannelKind]error)
	}
	f.errs[kind] = err
}

// latest returns the most recently opened stream of kind.
func (f *fakeDialer) latest(t *testing.T, kind domain.ChannelKind) *fakeChannelStream {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.opened) - 1; i >= 0; i-- {
		if f.opened[i].kind == kind {
			return f.opened[i]
		}
	}
	t.Fatalf("no %s stream opened", kind)
	return nil
}

func (f *fakeDialer) openAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeDialer) openedKinds() []domain.ChannelKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChannelKind, 0, len(f.opened))
	for _, stream := range f.opened {
		out = append(out, stream.kind)
	}
	return out
}

type fakeChannelStream struct {
	kind     domain.ChannelKind
	messages chan ports.ChannelMessage

	mu         sync.Mutex
	closed     bool
	closeCalls int
	waitErr    error
}

func newFakeChannelStream(kind domain.ChannelKind) *fakeChannelStream {
	return &fakeChannelStream{kind: kind, messages: make(chan ports.ChannelMessage, 16)}
}

func (f *fakeChannelStream) Messages() <-chan ports.ChannelMessage { return f.messages }

func (f *fakeChannelStream) Wait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeChannelStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		close(f.messages)
		f.closed = true
	}
	return nil
}

func (f *fakeChannelStream) pushText(payload string) {
	f.messages <- ports.ChannelMessage{Data: []byte(payload)}
}

func (f *fakeChannelStream) pushBinary(payload []byte) {
	f.messages <- ports.ChannelMessage{Binary: true, Data: payload}
}

// drop simulates the backend ending the connection.
func (f *fakeChannelStream) drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitErr = err
	if !f.closed {
		close(f.messages)
		f.closed = true
	}
}

func (f *fakeChannelStream) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeRules struct {
	replace map[string]string
	err     error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if out, ok := f.replace[text]; ok {
		return out, nil
	}
	return text, nil
}

type stateEvent struct {
	sessionID string
	state     domain.SessionState
	reason    domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

type recordingSink struct {
	mu sync.Mutex

	states     []stateEvent
	entries    []domain.TranscriptEntry
	highlights []*domain.SpeakerIdentity
	frames     []*domain.Frame
	remaining  []int
	analyses   []domain.AnalysisResult
	errors     []errEvent
}

func (r *recordingSink) SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, stateEvent{sessionID: sessionID, state: state, reason: reason})
}

func (r *recordingSink) TranscriptAppended(_ string, entry domain.TranscriptEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingSink) SpeakerChanged(_ string, highlight *domain.SpeakerIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.highlights = append(r.highlights, highlight)
}

func (r *recordingSink) FrameUpdated(_ string, frame *domain.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *recordingSink) RemainingTimeChanged(_ string, seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = append(r.remaining, seconds)
}

func (r *recordingSink) AnalysisReady(result domain.AnalysisResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses = append(r.analyses, result)
}

func (r *recordingSink) SessionError(code domain.ErrorCode, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, errEvent{code: code, detail: detail})
}

func (r *recordingSink) snapshotStates() []stateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stateEvent, len(r.states))
	copy(out, r.states)
	return out
}

func (r *recordingSink) snapshotErrors() []errEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]errEvent, len(r.errors))
	copy(out, r.errors)
	return out
}

func (r *recordingSink) hasError(code domain.ErrorCode) bool {
	for _, e := range r.snapshotErrors() {
		if e.code == code {
			return true
		}
	}
	return false
}

func (r *recordingSink) frameUpdates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordingSink) analysisCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.analyses)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func pngFrame(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
