package usecase

import "pitchroom/internal/domain"

// inboundEvent is published by a session's producers onto its ordered queue
// and applied by the dispatcher. gen ties the event to the session that
// produced it.
type inboundEvent interface {
	generation() uint64
}

// transcriptReceived carries one raw transcript channel message.
type transcriptReceived struct {
	gen     uint64
	binary  bool
	payload []byte
}

func (e transcriptReceived) generation() uint64 { return e.gen }

// frameDecoded carries a decode completion for the frame with the given
// arrival number. err is set when the payload was not a decodable image.
type frameDecoded struct {
	gen     uint64
	arrival uint64
	frame   *domain.Frame
	err     error
}

func (e frameDecoded) generation() uint64 { return e.gen }

// channelClosed reports that a channel's connection ended.
type channelClosed struct {
	gen     uint64
	channel domain.ChannelKind
	err     error
}

func (e channelClosed) generation() uint64 { return e.gen }

// timerTick is one countdown second.
type timerTick struct {
	gen uint64
}

func (e timerTick) generation() uint64 { return e.gen }
