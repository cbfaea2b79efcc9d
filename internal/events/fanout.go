package events

import (
	"pitchroom/internal/domain"
	"pitchroom/internal/ports"
)

// Fanout forwards every event to each sink in order.
type Fanout []ports.EventSink

// NewFanout drops nil sinks.
func NewFanout(sinks ...ports.EventSink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (f Fanout) SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason) {
	for _, sink := range f {
		sink.SessionStateChanged(sessionID, state, reason)
	}
}

func (f Fanout) TranscriptAppended(sessionID string, entry domain.TranscriptEntry) {
	for _, sink := range f {
		sink.TranscriptAppended(sessionID, entry)
	}
}

func (f Fanout) SpeakerChanged(sessionID string, highlight *domain.SpeakerIdentity) {
	for _, sink := range f {
		sink.SpeakerChanged(sessionID, highlight)
	}
}

func (f Fanout) FrameUpdated(sessionID string, frame *domain.Frame) {
	for _, sink := range f {
		sink.FrameUpdated(sessionID, frame)
	}
}

func (f Fanout) RemainingTimeChanged(sessionID string, seconds int) {
	for _, sink := range f {
		sink.RemainingTimeChanged(sessionID, seconds)
	}
}

func (f Fanout) AnalysisReady(result domain.AnalysisResult) {
	for _, sink := range f {
		sink.AnalysisReady(result)
	}
}

func (f Fanout) SessionError(code domain.ErrorCode, detail string) {
	for _, sink := range f {
		sink.SessionError(code, detail)
	}
}
