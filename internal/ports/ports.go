package ports

import (
	"context"

	"pitchroom/internal/domain"
)

// Backend is the request/response half of the pitch backend contract.
type Backend interface {
	StartSession(ctx context.Context) error
	BeginQnA(ctx context.Context) error
	StopSession(ctx context.Context) error
	GenerateAnalysis(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error)
}

// ChannelMessage is one inbound websocket message.
type ChannelMessage struct {
	Binary bool
	Data   []byte
}

// ChannelStream is an open streaming channel. Messages is closed when the
// connection ends for any reason; Wait then reports the terminal error, nil
// for a normal close.
type ChannelStream interface {
	Messages() <-chan ChannelMessage
	Wait() error
	Close() error
}

// ChannelDialer opens the streaming channels. Only the session controller
// calls it.
type ChannelDialer interface {
	Open(ctx context.Context, kind domain.ChannelKind) (ChannelStream, error)
}

// TextRules transforms transcript text using deterministic rules.
type TextRules interface {
	Apply(text string) (string, error)
}

// EventSink emits session state and events to the UI. Calls arrive in state
// order; implementations must not call back into the controller synchronously.
type EventSink interface {
	SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason)
	TranscriptAppended(sessionID string, entry domain.TranscriptEntry)
	SpeakerChanged(sessionID string, highlight *domain.SpeakerIdentity)
	FrameUpdated(sessionID string, frame *domain.Frame)
	RemainingTimeChanged(sessionID string, seconds int)
	AnalysisReady(result domain.AnalysisResult)
	SessionError(code domain.ErrorCode, detail string)
}
