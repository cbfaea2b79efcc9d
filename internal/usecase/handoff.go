package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pitchroom/internal/domain"
	"pitchroom/internal/observability/logging"
	"pitchroom/internal/observability/metrics"
	"pitchroom/internal/ports"
)

// HandoffSlot holds the latest analysis result until the results screen
// takes it. Each result can be taken once.
type HandoffSlot struct {
	mu     sync.Mutex
	result *domain.AnalysisResult
}

func NewHandoffSlot() *HandoffSlot {
	return &HandoffSlot{}
}

// Put stores result, replacing any unconsumed one.
func (s *HandoffSlot) Put(result domain.AnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = &result
}

// Take returns the stored result and empties the slot.
func (s *HandoffSlot) Take() (domain.AnalysisResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.AnalysisResult{}, false
	}
	result := *s.result
	s.result = nil
	return result, true
}

// Pending reports whether a result is waiting to be taken.
func (s *HandoffSlot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result != nil
}

// AnalysisHandoff submits the session transcript for scoring and parks the
// result in the slot. A failed call degrades to an empty result.
type AnalysisHandoff struct {
	backend ports.Backend
	events  ports.EventSink
	slot    *HandoffSlot
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewAnalysisHandoff(backend ports.Backend, events ports.EventSink, slot *HandoffSlot, timeout time.Duration) *AnalysisHandoff {
	if slot == nil {
		slot = NewHandoffSlot()
	}
	return &AnalysisHandoff{
		backend: backend,
		events:  events,
		slot:    slot,
		timeout: timeout,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("handoff"),
	}
}

func (h *AnalysisHandoff) Slot() *HandoffSlot {
	return h.slot
}

// Submit posts req and always produces a result.
func (h *AnalysisHandoff) Submit(ctx context.Context, sessionID string, req domain.AnalysisRequest) domain.AnalysisResult {
	if req.Transcript == nil {
		req.Transcript = []domain.TranscriptLine{}
	}

	callCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := h.backend.GenerateAnalysis(callCtx, req)
	h.metrics.RecordHandoff(err, time.Since(started).Seconds())

	if err != nil {
		failure := &AnalysisHandoffFailure{Err: err}
		h.log.Warn().
			Err(err).
			Str("sessionId", sessionID).
			Int("timeLeft", req.TimeLeft).
			Int("lines", len(req.Transcript)).
			Msg("analysis request failed, handing off empty result")
		h.events.SessionError(domain.ErrorCodeAnalysisHandoff, failure.Error())
		result = domain.EmptyAnalysis(sessionID)
	} else {
		result.SessionID = sessionID
		if len(result.Payload) == 0 {
			result.Payload = json.RawMessage(`{}`)
		}
	}

	h.slot.Put(result)
	h.events.AnalysisReady(result)
	return result
}
