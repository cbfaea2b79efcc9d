package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"pitchroom/internal/domain"
)

type emitted struct {
	name string
	data interface{}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) emit(_ context.Context, name string, data ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payload interface{}
	if len(data) > 0 {
		payload = data[0]
	}
	r.events = append(r.events, emitted{name: name, data: payload})
}

func (r *recordingEmitter) last(t *testing.T) emitted {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatalf("expected an emitted event")
	}
	return r.events[len(r.events)-1]
}

func newTestApp() (*App, *recordingEmitter) {
	recorder := &recordingEmitter{}
	return &App{ctx: context.Background(), emit: recorder.emit}, recorder
}

func TestSessionReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionStateReason]string{
		domain.SessionReasonReady:          "Ready to pitch",
		domain.SessionReasonSessionStarted: "Session live",
		domain.SessionReasonStopping:       "Ending session...",
		domain.SessionReasonSessionStopped: "Session ended. Scoring your pitch...",
		domain.SessionReasonQnARequested:   "Judges are asking questions",
	}

	for reason, want := range cases {
		reason, want := reason, want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := sessionReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := sessionReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:         "Startup failed",
		domain.ErrorCodeSessionStart:    "Could not start the session",
		domain.ErrorCodeChannelClosed:   "Connection to the judges dropped",
		domain.ErrorCodeRemoteStop:      "Backend did not confirm the stop",
		domain.ErrorCodeQnA:             "Could not start Q&A",
		domain.ErrorCodeAnalysisHandoff: "Scoring unavailable",
	}
	for code, want := range cases {
		code, want := code, want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("transcript_decode", "bad json"); got != "bad json" {
		t.Fatalf("decode failures have no UI code, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}
	if _, err := app.StartSession(); err == nil {
		t.Fatalf("expected start to fail before startup")
	}
	if err := app.BeginQnA(); err == nil {
		t.Fatalf("expected Q&A to fail before startup")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.TakeAnalysis(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from TakeAnalysis, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}
	if transcript := app.GetTranscript(); transcript == nil || len(transcript) != 0 {
		t.Fatalf("expected empty transcript, got %#v", transcript)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.SessionStateIdle || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("expected boot error in runtime info, got %v", info)
	}
}

func TestEventSinkEmitsRuntimeEvents(t *testing.T) {
	t.Parallel()

	app, recorder := newTestApp()

	app.SessionStateChanged("s1", domain.SessionStateActive, domain.SessionReasonSessionStarted)
	state := recorder.last(t)
	if state.name != eventSession || state.data.(map[string]string)["message"] != "Session live" {
		t.Fatalf("unexpected session event: %+v", state)
	}

	app.TranscriptAppended("s1", domain.TranscriptEntry{Speaker: "RBC Judge", Text: "What's your CAC?", Sequence: 1})
	if got := recorder.last(t); got.name != eventTranscript || got.data.(map[string]interface{})["sequence"] != 1 {
		t.Fatalf("unexpected transcript event: %+v", got)
	}

	app.SpeakerChanged("s1", nil)
	if got := recorder.last(t); got.name != eventSpeaker || got.data.(map[string]interface{})["highlight"] != nil {
		t.Fatalf("expected cleared highlight, got %+v", got)
	}

	app.RemainingTimeChanged("s1", 287)
	if got := recorder.last(t); got.name != eventTimer || got.data.(map[string]interface{})["display"] != "4:47" {
		t.Fatalf("unexpected timer event: %+v", got)
	}

	app.SessionError(domain.ErrorCodeQnA, "boom")
	if got := recorder.last(t); got.name != eventError || got.data.(map[string]string)["detail"] != "boom" {
		t.Fatalf("unexpected error event: %+v", got)
	}
}

func TestFramePayload(t *testing.T) {
	t.Parallel()

	placeholder := framePayload("s1", nil)
	if placeholder["dataUrl"] != "" || placeholder["handle"] != "" {
		t.Fatalf("expected placeholder payload, got %v", placeholder)
	}

	payload := framePayload("s1", &domain.Frame{Arrival: 3, Format: "jpeg", Width: 2, Height: 1, Data: []byte("jpg")})
	if payload["handle"] != "frame-3" {
		t.Fatalf("unexpected handle: %v", payload["handle"])
	}
	if url, _ := payload["dataUrl"].(string); !strings.HasPrefix(url, "data:image/jpeg;base64,") || !strings.HasSuffix(url, "anBn") {
		t.Fatalf("unexpected data url: %v", payload["dataUrl"])
	}
}

func TestEventsWithoutContextAreDropped(t *testing.T) {
	t.Parallel()

	recorder := &recordingEmitter{}
	app := &App{emit: recorder.emit}
	app.SessionError(domain.ErrorCodeStartup, "early")
	if len(recorder.events) != 0 {
		t.Fatalf("expected no events before startup")
	}
}
