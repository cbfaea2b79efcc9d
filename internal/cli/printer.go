package cli

import (
	"fmt"
	"sync/atomic"

	"pitchroom/internal/domain"
)

// sessionPrinter renders session events to the terminal.
type sessionPrinter struct {
	out       *formatter
	remaining atomic.Int64
	frames    atomic.Uint64
}

func newSessionPrinter(out *formatter) *sessionPrinter {
	return &sessionPrinter{out: out}
}

func (p *sessionPrinter) SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason) {
	switch reason {
	case domain.SessionReasonSessionStarted:
		p.out.Success(fmt.Sprintf("Session %s live. Commands: q = begin Q&A, s = stop", sessionID))
	case domain.SessionReasonQnARequested:
		p.out.Info("Judges are moving to questions")
	case domain.SessionReasonStopping:
		p.out.Info("Ending session...")
	case domain.SessionReasonSessionStopped:
		p.out.Info(fmt.Sprintf("Session ended after %d frames. Scoring your pitch...", p.frames.Load()))
	default:
		p.out.Info(fmt.Sprintf("Session %s", state))
	}
}

func (p *sessionPrinter) TranscriptAppended(_ string, entry domain.TranscriptEntry) {
	p.out.Transcript(entry, domain.FormatRemaining(int(p.remaining.Load())))
}

func (p *sessionPrinter) SpeakerChanged(_ string, highlight *domain.SpeakerIdentity) {
	if highlight == nil {
		return
	}
	p.out.Raw(fmt.Sprintf("🎙️  %s (%s)\n", highlight.Name, highlight.Company))
}

func (p *sessionPrinter) FrameUpdated(_ string, frame *domain.Frame) {
	if frame != nil {
		p.frames.Add(1)
	}
}

// RemainingTimeChanged prints once a minute and every second of the final ten.
func (p *sessionPrinter) RemainingTimeChanged(_ string, seconds int) {
	p.remaining.Store(int64(seconds))
	if seconds%60 == 0 || seconds <= 10 {
		p.out.Raw(fmt.Sprintf("⏱️  %s left\n", domain.FormatRemaining(seconds)))
	}
}

func (p *sessionPrinter) AnalysisReady(result domain.AnalysisResult) {
	if result.Degraded {
		p.out.Warning("Analysis unavailable, the backend did not score this session")
		return
	}
	p.out.Success("Analysis ready")
}

func (p *sessionPrinter) SessionError(code domain.ErrorCode, detail string) {
	p.out.Warning(fmt.Sprintf("%s: %s", code, detail))
}
