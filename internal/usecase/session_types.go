package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pitchroom/internal/ports"
)

type activeSession struct {
	id        string
	gen       uint64
	startedAt time.Time
	cancel    context.CancelFunc
	log       zerolog.Logger

	transcript ports.ChannelStream
	video      ports.ChannelStream
	queue      chan inboundEvent

	dispatchDone   chan struct{}
	transcriptDone chan struct{}
	videoDone      chan struct{}
	tickerDone     chan struct{}
}

func newActiveSession(id string, gen uint64, transcript, video ports.ChannelStream, queueSize int, log zerolog.Logger) *activeSession {
	return &activeSession{
		id:             id,
		gen:            gen,
		startedAt:      time.Now(),
		log:            log,
		transcript:     transcript,
		video:          video,
		queue:          make(chan inboundEvent, queueSize),
		dispatchDone:   make(chan struct{}),
		transcriptDone: make(chan struct{}),
		videoDone:      make(chan struct{}),
		tickerDone:     make(chan struct{}),
	}
}

func (s *activeSession) closeChannels() {
	if err := s.transcript.Close(); err != nil {
		s.log.Debug().Err(err).Msg("transcript channel close")
	}
	if err := s.video.Close(); err != nil {
		s.log.Debug().Err(err).Msg("video channel close")
	}
}

// awaitWorkers waits for the session goroutines to exit, giving up after grace.
func (s *activeSession) awaitWorkers(grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for _, done := range []chan struct{}{s.dispatchDone, s.transcriptDone, s.videoDone, s.tickerDone} {
		select {
		case <-done:
		case <-timer.C:
			s.log.Warn().Dur("grace", grace).Msg("session workers still running after stop")
			return false
		}
	}
	return true
}
