package domain

import (
	"encoding/json"
	"fmt"
	"image"
	"strings"
)

// SessionState models the pitch session lifecycle.
type SessionState string

const (
	SessionStateIdle        SessionState = "idle"
	SessionStateActive      SessionState = "active"
	SessionStateTerminating SessionState = "terminating"
)

// CanTransitionTo reports whether next is a legal successor of s.
//
//	idle --start--> active --stop--> terminating --cleanup--> idle
func (s SessionState) CanTransitionTo(next SessionState) bool {
	switch s {
	case SessionStateIdle:
		return next == SessionStateActive
	case SessionStateActive:
		return next == SessionStateTerminating
	case SessionStateTerminating:
		return next == SessionStateIdle
	default:
		return false
	}
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady          SessionStateReason = "ready"
	SessionReasonSessionStarted SessionStateReason = "session_started"
	SessionReasonStopping       SessionStateReason = "stopping"
	SessionReasonSessionStopped SessionStateReason = "session_stopped"
	SessionReasonQnARequested   SessionStateReason = "qna_requested"
)

// ErrorCode identifies non-fatal and fatal session errors.
type ErrorCode string

// Malformed channel messages are logged and counted, never surfaced.
const (
	ErrorCodeStartup         ErrorCode = "startup"
	ErrorCodeSessionStart    ErrorCode = "session_start"
	ErrorCodeChannelClosed   ErrorCode = "channel_closed"
	ErrorCodeRemoteStop      ErrorCode = "remote_stop"
	ErrorCodeQnA             ErrorCode = "qna"
	ErrorCodeAnalysisHandoff ErrorCode = "analysis_handoff"
)

// ChannelKind names one of the two streaming channels.
type ChannelKind string

const (
	ChannelTranscript ChannelKind = "transcript"
	ChannelVideo      ChannelKind = "video"
)

// TranscriptLine is the wire shape of one transcript event.
type TranscriptLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// TranscriptEntry is one appended transcript line. Sequence is 1-based arrival order.
type TranscriptEntry struct {
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	Sequence int    `json:"sequence"`
}

// Line strips the sequence number for wire submission.
func (e TranscriptEntry) Line() TranscriptLine {
	return TranscriptLine{Speaker: e.Speaker, Text: e.Text}
}

// SpeakerIdentity is a judge persona a transcript line can be attributed to.
type SpeakerIdentity struct {
	ID      string `json:"id" toml:"id"`
	Name    string `json:"name" toml:"name"`
	Company string `json:"company" toml:"company"`
}

// Roster maps speaker names to judge identities. Lookups ignore case and
// surrounding whitespace.
type Roster struct {
	byName map[string]SpeakerIdentity
}

// NewRoster indexes identities by name. Later duplicates win.
func NewRoster(identities []SpeakerIdentity) Roster {
	byName := make(map[string]SpeakerIdentity, len(identities))
	for _, identity := range identities {
		key := rosterKey(identity.Name)
		if key == "" {
			continue
		}
		byName[key] = identity
	}
	return Roster{byName: byName}
}

// DefaultJudges mirrors the backend's judge personalities.
func DefaultJudges() []SpeakerIdentity {
	return []SpeakerIdentity{
		{ID: "rbc", Name: "RBC Judge", Company: "RBC"},
		{ID: "google", Name: "Google Judge", Company: "Google"},
		{ID: "1password", Name: "1Password Judge", Company: "1Password"},
	}
}

// Lookup returns the identity registered for speaker.
func (r Roster) Lookup(speaker string) (SpeakerIdentity, bool) {
	identity, ok := r.byName[rosterKey(speaker)]
	return identity, ok
}

// Len returns the number of known identities.
func (r Roster) Len() int {
	return len(r.byName)
}

func rosterKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Frame is the currently displayed video frame.
type Frame struct {
	Arrival uint64      `json:"arrival"`
	Format  string      `json:"format"`
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Data    []byte      `json:"-"`
	Image   image.Image `json:"-"`
}

// Handle identifies the frame's display resource.
func (f *Frame) Handle() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("frame-%d", f.Arrival)
}

// Release drops the frame's buffers once it is superseded.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.Data = nil
	f.Image = nil
}

// AnalysisRequest is the body submitted to the analysis endpoint.
type AnalysisRequest struct {
	TimeLeft   int              `json:"time_left"`
	Transcript []TranscriptLine `json:"transcript"`
}

// AnalysisResult is the opaque scoring payload handed to the next screen.
type AnalysisResult struct {
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
	Degraded  bool            `json:"degraded"`
}

// EmptyAnalysis is substituted when the backend call fails.
func EmptyAnalysis(sessionID string) AnalysisResult {
	return AnalysisResult{SessionID: sessionID, Payload: json.RawMessage(`{}`), Degraded: true}
}

// Status summarizes the current runtime status.
type Status struct {
	SessionID        string           `json:"sessionId,omitempty"`
	State            SessionState     `json:"state"`
	Active           bool             `json:"active"`
	RemainingSeconds int              `json:"remainingSeconds"`
	Highlight        *SpeakerIdentity `json:"highlight,omitempty"`
	TranscriptLength int              `json:"transcriptLength"`
	HasFrame         bool             `json:"hasFrame"`
	Message          string           `json:"message,omitempty"`
}

// FormatRemaining renders a countdown as m:ss, clamping negatives to zero.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
