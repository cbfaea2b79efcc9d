package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"pitchroom/internal/domain"
	"pitchroom/internal/ports"
)

var (
	errBinaryTranscript = errors.New("unexpected binary message")
	errMissingSpeaker   = errors.New("missing speaker")
	errMissingText      = errors.New("missing text")
)

// transcriptLog is the append-only transcript of the current session.
type transcriptLog struct {
	entries []domain.TranscriptEntry
}

func newTranscriptLog() *transcriptLog {
	return &transcriptLog{}
}

// Append stores line with the next sequence number.
func (l *transcriptLog) Append(line domain.TranscriptLine) domain.TranscriptEntry {
	entry := domain.TranscriptEntry{
		Speaker:  line.Speaker,
		Text:     line.Text,
		Sequence: len(l.entries) + 1,
	}
	l.entries = append(l.entries, entry)
	return entry
}

func (l *transcriptLog) Entries() []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Lines returns the transcript in wire shape, never nil.
func (l *transcriptLog) Lines() []domain.TranscriptLine {
	out := make([]domain.TranscriptLine, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, entry.Line())
	}
	return out
}

func (l *transcriptLog) Len() int {
	return len(l.entries)
}

func (l *transcriptLog) Reset() {
	l.entries = nil
}

type wireTranscriptLine struct {
	Speaker *string `json:"speaker"`
	Text    *string `json:"text"`
}

// decodeTranscriptLine parses one {"speaker","text"} message. Both fields
// must be present and non-blank.
func decodeTranscriptLine(payload []byte) (domain.TranscriptLine, error) {
	var wire wireTranscriptLine
	if err := json.Unmarshal(payload, &wire); err != nil {
		return domain.TranscriptLine{}, err
	}
	if wire.Speaker == nil || strings.TrimSpace(*wire.Speaker) == "" {
		return domain.TranscriptLine{}, errMissingSpeaker
	}
	if wire.Text == nil || strings.TrimSpace(*wire.Text) == "" {
		return domain.TranscriptLine{}, errMissingText
	}
	return domain.TranscriptLine{
		Speaker: strings.TrimSpace(*wire.Speaker),
		Text:    strings.TrimSpace(*wire.Text),
	}, nil
}

// pumpTranscript forwards transcript messages onto the session queue in
// arrival order, then reports the channel's closure.
func pumpTranscript(
	ctx context.Context,
	gen uint64,
	stream ports.ChannelStream,
	queue chan<- inboundEvent,
	done chan struct{},
) {
	defer close(done)

	for msg := range stream.Messages() {
		event := transcriptReceived{gen: gen, binary: msg.Binary, payload: msg.Data}
		if !publish(ctx, queue, event) {
			return
		}
	}
	publish(ctx, queue, channelClosed{gen: gen, channel: domain.ChannelTranscript, err: stream.Wait()})
}

// publish enqueues event unless the session has ended.
func publish(ctx context.Context, queue chan<- inboundEvent, event inboundEvent) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case queue <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
