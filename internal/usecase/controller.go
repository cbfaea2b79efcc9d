package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"pitchroom/internal/domain"
	"pitchroom/internal/observability/logging"
	"pitchroom/internal/observability/metrics"
	"pitchroom/internal/ports"
)

// Config controls live session behavior.
type Config struct {
	SessionDuration time.Duration
	TickInterval    time.Duration
	QueueSize       int
	DecodeWorkers   int
	CloseGrace      time.Duration
	AnalysisTimeout time.Duration
	Judges          []domain.SpeakerIdentity
}

func (c Config) withDefaults() Config {
	if c.SessionDuration <= 0 {
		c.SessionDuration = defaultSessionDuration
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.QueueSize < 16 {
		c.QueueSize = 256
	}
	if c.DecodeWorkers < 1 {
		c.DecodeWorkers = 2
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 2 * time.Second
	}
	if c.Judges == nil {
		c.Judges = domain.DefaultJudges()
	}
	return c
}

// SessionController owns the live session lifecycle. Inbound channel
// messages and timer ticks are applied one at a time by the session's
// dispatcher while holding mu, so state observed through the accessors is
// always consistent.
type SessionController struct {
	backend ports.Backend
	dialer  ports.ChannelDialer
	rules   ports.TextRules
	events  ports.EventSink
	handoff *AnalysisHandoff
	cfg     Config
	decode  frameDecoder
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu          sync.Mutex
	state       domain.SessionState
	starting    bool
	startCancel context.CancelFunc
	closing     bool
	gen         uint64
	current    *activeSession
	transcript *transcriptLog
	speakers   *speakerAttributor
	clock      *countdown
	frames     frameSlot

	starts    sync.WaitGroup
	teardowns sync.WaitGroup
}

func NewSessionController(
	backend ports.Backend,
	dialer ports.ChannelDialer,
	rules ports.TextRules,
	events ports.EventSink,
	cfg Config,
) *SessionController {
	cfg = cfg.withDefaults()
	return &SessionController{
		backend:    backend,
		dialer:     dialer,
		rules:      rules,
		events:     events,
		handoff:    NewAnalysisHandoff(backend, events, NewHandoffSlot(), cfg.AnalysisTimeout),
		cfg:        cfg,
		decode:     decodeImage,
		metrics:    metrics.DefaultMetrics,
		log:        logging.WithComponent("controller"),
		state:      domain.SessionStateIdle,
		transcript: newTranscriptLog(),
		speakers:   newSpeakerAttributor(domain.NewRoster(cfg.Judges)),
		clock:      newCountdown(cfg.SessionDuration),
	}
}

// Start begins a session on the backend and opens both channels. On failure
// the controller stays idle and Start may be retried.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closing:
		c.mu.Unlock()
		return &InvalidStateError{Op: "start", State: c.state, Condition: ConditionShutDown}
	case c.starting:
		c.mu.Unlock()
		return &InvalidStateError{Op: "start", State: c.state, Condition: ConditionStarting}
	case c.state != domain.SessionStateIdle:
		state := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "start", State: state}
	}
	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.starting = true
	c.startCancel = cancel
	c.starts.Add(1)
	defer c.starts.Done()
	c.mu.Unlock()

	transcript, video, err := c.openSession(startCtx)
	if err != nil {
		c.finishStart()

		c.log.Error().Err(err).Str("stage", err.Stage).Msg("session start failed")
		c.metrics.RecordSessionStartFailed(err.Stage)
		c.events.SessionError(domain.ErrorCodeSessionStart, err.Error())
		return err
	}

	c.mu.Lock()
	c.starting = false
	c.startCancel = nil
	if c.closing {
		state := c.state
		c.mu.Unlock()

		_ = transcript.Close()
		_ = video.Close()
		c.releaseRemote(ctx)
		c.log.Info().Msg("start finished after shutdown, session released")
		return &InvalidStateError{Op: "start", State: state, Condition: ConditionShutDown}
	}
	c.activate(transcript, video)
	c.mu.Unlock()
	return nil
}

func (c *SessionController) finishStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	c.startCancel = nil
}

func (c *SessionController) openSession(ctx context.Context) (ports.ChannelStream, ports.ChannelStream, *SessionStartError) {
	if err := c.backend.StartSession(ctx); err != nil {
		return nil, nil, &SessionStartError{Stage: StageBeginSession, Err: err}
	}

	transcript, err := c.dialer.Open(ctx, domain.ChannelTranscript)
	if err != nil {
		c.releaseRemote(ctx)
		return nil, nil, &SessionStartError{Stage: StageOpenTranscript, Err: err}
	}

	video, err := c.dialer.Open(ctx, domain.ChannelVideo)
	if err != nil {
		_ = transcript.Close()
		c.releaseRemote(ctx)
		return nil, nil, &SessionStartError{Stage: StageOpenVideo, Err: err}
	}

	return transcript, video, nil
}

// releaseRemote undoes a successful remote begin after a later start stage failed.
func (c *SessionController) releaseRemote(ctx context.Context) {
	if err := c.backend.StopSession(context.WithoutCancel(ctx)); err != nil {
		c.log.Warn().Err(err).Msg("release of half-started session failed")
	}
}

// activate must be called with mu held.
func (c *SessionController) activate(transcript, video ports.ChannelStream) {
	c.gen++
	id := uuid.NewString()
	active := newActiveSession(id, c.gen, transcript, video, c.cfg.QueueSize, logging.WithSession("controller", id))

	sessionCtx, cancel := context.WithCancel(context.Background())
	active.cancel = cancel
	c.current = active

	c.transcript.Reset()
	c.speakers.Reset()
	c.frames.Clear()
	c.clock.Reset()

	c.transition(id, domain.SessionStateActive, domain.SessionReasonSessionStarted)
	c.events.RemainingTimeChanged(id, c.clock.Remaining())
	c.metrics.RecordSessionStart()
	active.log.Info().Int("duration", c.clock.Duration()).Msg("session started")

	pump := &videoPump{
		gen:     active.gen,
		stream:  video,
		queue:   active.queue,
		decode:  c.decode,
		workers: semaphore.NewWeighted(int64(c.cfg.DecodeWorkers)),
		metrics: c.metrics,
	}

	go c.dispatchLoop(sessionCtx, active)
	go pumpTranscript(sessionCtx, active.gen, transcript, active.queue, active.transcriptDone)
	go pump.run(sessionCtx, active.videoDone)
	go runTicker(sessionCtx, active.gen, c.cfg.TickInterval, active.queue, active.tickerDone)
}

// BeginQnA asks the backend to switch the judges into question mode.
func (c *SessionController) BeginQnA(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.SessionStateActive {
		state := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "begin Q&A", State: state}
	}
	id := c.current.id
	c.mu.Unlock()

	if err := c.backend.BeginQnA(ctx); err != nil {
		c.log.Warn().Err(err).Str("sessionId", id).Msg("begin Q&A failed")
		c.events.SessionError(domain.ErrorCodeQnA, err.Error())
		return fmt.Errorf("begin Q&A: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.id == id {
		c.events.SessionStateChanged(id, domain.SessionStateActive, domain.SessionReasonQnARequested)
	}
	return nil
}

// Stop ends the active session. Local state is reset before Stop returns;
// the remote stop and the analysis handoff continue in the background and
// can be awaited with Wait. Stop is a no-op unless a session is active.
func (c *SessionController) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.SessionStateActive || c.current == nil {
		c.mu.Unlock()
		return nil
	}
	active := c.current

	c.transition(active.id, domain.SessionStateTerminating, domain.SessionReasonStopping)
	request := domain.AnalysisRequest{
		TimeLeft:   c.clock.Remaining(),
		Transcript: c.transcript.Lines(),
	}

	active.cancel()
	active.closeChannels()
	c.current = nil
	c.resetLocal(active.id)
	c.transition(active.id, domain.SessionStateIdle, domain.SessionReasonSessionStopped)

	elapsed := time.Since(active.startedAt)
	c.metrics.RecordSessionEnd(elapsed.Seconds())
	active.log.Info().
		Dur("elapsed", elapsed).
		Int("timeLeft", request.TimeLeft).
		Int("lines", len(request.Transcript)).
		Msg("session stopped")

	c.teardowns.Add(1)
	c.mu.Unlock()

	active.awaitWorkers(c.cfg.CloseGrace)
	go c.teardown(context.WithoutCancel(ctx), active, request)
	return nil
}

func (c *SessionController) teardown(ctx context.Context, active *activeSession, request domain.AnalysisRequest) {
	defer c.teardowns.Done()

	if err := c.backend.StopSession(ctx); err != nil {
		active.log.Error().Err(err).Msg("remote stop failed")
		c.metrics.RecordRemoteStopError()
		c.events.SessionError(domain.ErrorCodeRemoteStop, err.Error())
	}
	c.handoff.Submit(ctx, active.id, request)
}

// Wait blocks until every background teardown has finished.
func (c *SessionController) Wait(ctx context.Context) error {
	return waitGroup(ctx, &c.teardowns)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels an in-flight start, stops any active session, and waits
// for its teardown. Later calls to Start are rejected.
func (c *SessionController) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	cancelStart := c.startCancel
	c.mu.Unlock()

	if cancelStart != nil {
		cancelStart()
	}
	if err := waitGroup(ctx, &c.starts); err != nil {
		return err
	}
	_ = c.Stop(ctx)
	return c.Wait(ctx)
}

// resetLocal must be called with mu held.
func (c *SessionController) resetLocal(sessionID string) {
	c.transcript.Reset()
	if c.speakers.Reset() {
		c.events.SpeakerChanged(sessionID, nil)
	}
	if c.frames.Clear() {
		c.events.FrameUpdated(sessionID, nil)
	}
	c.clock.Reset()
	c.events.RemainingTimeChanged(sessionID, c.clock.Remaining())
}

// transition must be called with mu held.
func (c *SessionController) transition(sessionID string, next domain.SessionState, reason domain.SessionStateReason) {
	if !c.state.CanTransitionTo(next) {
		c.log.Error().
			Str("from", string(c.state)).
			Str("to", string(next)).
			Msg("illegal session transition")
		return
	}
	c.state = next
	c.events.SessionStateChanged(sessionID, next, reason)
}

func (c *SessionController) dispatchLoop(ctx context.Context, active *activeSession) {
	defer close(active.dispatchDone)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-active.queue:
			c.mu.Lock()
			c.dispatch(event)
			c.mu.Unlock()
		}
	}
}

// dispatch applies one inbound event. Events from a session that is no
// longer current are dropped. Must be called with mu held.
func (c *SessionController) dispatch(event inboundEvent) {
	if c.state != domain.SessionStateActive || c.current == nil || event.generation() != c.current.gen {
		return
	}

	switch e := event.(type) {
	case transcriptReceived:
		c.applyTranscript(e)
	case frameDecoded:
		c.applyFrame(e)
	case channelClosed:
		c.applyChannelClosed(e)
	case timerTick:
		if c.clock.Tick() {
			c.events.RemainingTimeChanged(c.current.id, c.clock.Remaining())
		}
	}
}

func (c *SessionController) applyTranscript(e transcriptReceived) {
	active := c.current

	line, err := decodeTranscriptLine(e.payload)
	if e.binary {
		err = errBinaryTranscript
	}
	if err != nil {
		decodeErr := &ChannelDecodeError{Channel: domain.ChannelTranscript, Err: err}
		active.log.Warn().Err(decodeErr).Int("bytes", len(e.payload)).Msg("discarding transcript message")
		c.metrics.RecordDecodeError(string(domain.ChannelTranscript))
		return
	}

	if c.rules != nil {
		text, err := c.rules.Apply(line.Text)
		if err != nil {
			active.log.Warn().Err(err).Msg("transcript rules failed, keeping raw text")
		} else if text != "" {
			line.Text = text
		}
	}

	entry := c.transcript.Append(line)
	c.metrics.RecordTranscriptEntry()
	c.events.TranscriptAppended(active.id, entry)

	if c.speakers.Observe(entry) {
		c.events.SpeakerChanged(active.id, c.speakers.Current())
	}
}

func (c *SessionController) applyFrame(e frameDecoded) {
	active := c.current

	if e.err != nil {
		decodeErr := &ChannelDecodeError{Channel: domain.ChannelVideo, Err: e.err}
		active.log.Warn().Err(decodeErr).Uint64("arrival", e.arrival).Msg("discarding video frame")
		c.metrics.RecordDecodeError(string(domain.ChannelVideo))
		return
	}

	if !c.frames.Offer(e.frame) {
		c.metrics.RecordStaleFrame()
		e.frame.Release()
		return
	}
	c.events.FrameUpdated(active.id, c.frames.Current())
}

func (c *SessionController) applyChannelClosed(e channelClosed) {
	active := c.current

	closedErr := &ChannelClosedError{Channel: e.channel, Err: e.err}
	active.log.Warn().Err(closedErr).Msg("channel dropped, session continues")
	c.metrics.RecordChannelDrop(string(e.channel))
	c.events.SessionError(domain.ErrorCodeChannelClosed, closedErr.Error())

	if e.channel == domain.ChannelTranscript && c.speakers.Reset() {
		c.events.SpeakerChanged(active.id, nil)
	}
}

// State returns the lifecycle state.
func (c *SessionController) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a consistent snapshot of the session.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		State:            c.state,
		Active:           c.state == domain.SessionStateActive,
		RemainingSeconds: c.clock.Remaining(),
		Highlight:        c.speakers.Current(),
		TranscriptLength: c.transcript.Len(),
		HasFrame:         c.frames.current != nil,
	}
	if c.current != nil {
		status.SessionID = c.current.id
	}
	return status
}

func (c *SessionController) Transcript() []domain.TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Entries()
}

// CurrentFrame returns the displayed frame, nil while the placeholder shows.
func (c *SessionController) CurrentFrame() *domain.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames.Current()
}

func (c *SessionController) Highlight() *domain.SpeakerIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speakers.Current()
}

func (c *SessionController) RemainingTime() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Remaining()
}

// TakeAnalysis returns the latest analysis result once.
func (c *SessionController) TakeAnalysis() (domain.AnalysisResult, bool) {
	return c.handoff.Slot().Take()
}
