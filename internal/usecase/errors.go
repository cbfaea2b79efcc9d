package usecase

import (
	"fmt"

	"pitchroom/internal/domain"
)

// Start stages reported by SessionStartError.
const (
	StageBeginSession   = "begin_session"
	StageOpenTranscript = "open_transcript_channel"
	StageOpenVideo      = "open_video_channel"
)

// SessionStartError reports a failed Start. The session stays idle and the
// caller may retry.
type SessionStartError struct {
	Stage string
	Err   error
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("session start failed at %s: %v", e.Stage, e.Err)
}

func (e *SessionStartError) Unwrap() error { return e.Err }

// Conditions reported by InvalidStateError that the state machine does not
// model.
const (
	ConditionStarting = "starting"
	ConditionShutDown = "shut down"
)

// InvalidStateError reports an operation invoked in the wrong state. It has
// no side effects. Condition, when set, replaces State in the message.
type InvalidStateError struct {
	Op        string
	State     domain.SessionState
	Condition string
}

func (e *InvalidStateError) Error() string {
	condition := string(e.State)
	if e.Condition != "" {
		condition = e.Condition
	}
	return fmt.Sprintf("%s is not allowed while session is %s", e.Op, condition)
}

// ChannelDecodeError reports a malformed inbound message. The message is
// discarded and the channel stays open.
type ChannelDecodeError struct {
	Channel domain.ChannelKind
	Err     error
}

func (e *ChannelDecodeError) Error() string {
	return fmt.Sprintf("%s channel: malformed message: %v", e.Channel, e.Err)
}

func (e *ChannelDecodeError) Unwrap() error { return e.Err }

// ChannelClosedError reports an unexpected disconnect. It does not end the
// session.
type ChannelClosedError struct {
	Channel domain.ChannelKind
	Err     error
}

func (e *ChannelClosedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s channel closed by backend", e.Channel)
	}
	return fmt.Sprintf("%s channel closed: %v", e.Channel, e.Err)
}

func (e *ChannelClosedError) Unwrap() error { return e.Err }

// AnalysisHandoffFailure reports a failed analysis request. The handoff
// degrades to an empty result.
type AnalysisHandoffFailure struct {
	Err error
}

func (e *AnalysisHandoffFailure) Error() string {
	return fmt.Sprintf("analysis handoff failed: %v", e.Err)
}

func (e *AnalysisHandoffFailure) Unwrap() error { return e.Err }
