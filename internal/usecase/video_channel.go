package usecase

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"golang.org/x/sync/semaphore"

	"pitchroom/internal/domain"
	"pitchroom/internal/observability/metrics"
	"pitchroom/internal/ports"
)

var errTextFrame = errors.New("unexpected text message")

// frameDecoder turns a payload into an image and its format name.
type frameDecoder func(payload []byte) (image.Image, string, error)

func decodeImage(payload []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(payload))
}

func decodeFrame(decode frameDecoder, arrival uint64, payload []byte) (*domain.Frame, error) {
	img, format, err := decode(payload)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	return &domain.Frame{
		Arrival: arrival,
		Format:  format,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Data:    payload,
		Image:   img,
	}, nil
}

// frameSlot holds the single displayed frame. A frame is shown only if it
// arrived after the one currently shown.
type frameSlot struct {
	current *domain.Frame
}

// Offer displays frame unless a later arrival is already shown. The
// superseded frame is released.
func (s *frameSlot) Offer(frame *domain.Frame) bool {
	if frame == nil {
		return false
	}
	if s.current != nil && frame.Arrival <= s.current.Arrival {
		return false
	}
	previous := s.current
	s.current = frame
	previous.Release()
	return true
}

// Current returns a copy of the displayed frame, nil for the placeholder.
func (s *frameSlot) Current() *domain.Frame {
	if s.current == nil {
		return nil
	}
	copied := *s.current
	return &copied
}

// Clear releases the displayed frame and reverts to the placeholder.
func (s *frameSlot) Clear() bool {
	if s.current == nil {
		return false
	}
	s.current.Release()
	s.current = nil
	return true
}

// videoPump numbers inbound frames by arrival and decodes them on a bounded
// pool. Completions may reach the queue out of arrival order; frameSlot
// discards the stale ones.
type videoPump struct {
	gen     uint64
	stream  ports.ChannelStream
	queue   chan<- inboundEvent
	decode  frameDecoder
	workers *semaphore.Weighted
	metrics *metrics.Metrics
}

func (p *videoPump) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var (
		wg      sync.WaitGroup
		arrival uint64
	)
	defer wg.Wait()

	for msg := range p.stream.Messages() {
		arrival++
		if !msg.Binary {
			if !publish(ctx, p.queue, frameDecoded{gen: p.gen, arrival: arrival, err: errTextFrame}) {
				return
			}
			continue
		}
		p.metrics.RecordFrameReceived(len(msg.Data))

		if err := p.workers.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(arrival uint64, payload []byte) {
			defer wg.Done()
			defer p.workers.Release(1)
			frame, err := decodeFrame(p.decode, arrival, payload)
			publish(ctx, p.queue, frameDecoded{gen: p.gen, arrival: arrival, frame: frame, err: err})
		}(arrival, msg.Data)
	}

	wg.Wait()
	publish(ctx, p.queue, channelClosed{gen: p.gen, channel: domain.ChannelVideo, err: p.stream.Wait()})
}
