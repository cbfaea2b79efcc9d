// Package events publishes session events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"pitchroom/internal/domain"
	"pitchroom/internal/observability/logging"
	"pitchroom/internal/observability/metrics"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Enabled         bool
	Brokers         []string
	ClientID        string
	LifecycleTopic  string
	TranscriptTopic string
	AnalysisTopic   string
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON document published for each session event.
type Event struct {
	Type        string                  `json:"type"`
	SessionID   string                  `json:"sessionId,omitempty"`
	State       domain.SessionState     `json:"state,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Entry       *domain.TranscriptEntry `json:"entry,omitempty"`
	Highlight   *domain.SpeakerIdentity `json:"highlight,omitempty"`
	Analysis    *domain.AnalysisResult  `json:"analysis,omitempty"`
	ErrorCode   domain.ErrorCode        `json:"errorCode,omitempty"`
	ErrorDetail string                  `json:"errorDetail,omitempty"`
	Timestamp   time.Time               `json:"ts"`
}

// Publisher implements ports.EventSink by writing lifecycle, transcript,
// and analysis events to Kafka keyed by session ID. Writes are async so
// sink calls never block the session. When disabled it only logs.
type Publisher struct {
	writers  map[string]messageWriter
	clientID string
	topics   Config
	enabled  bool
	now      func() time.Time
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func New(cfg *Config) *Publisher {
	p := &Publisher{
		writers: map[string]messageWriter{},
		now:     time.Now,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("events"),
	}
	if cfg == nil {
		p.log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}

	p.clientID = cfg.ClientID
	p.topics = *cfg
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	transport := &kafka.Transport{
		Dial:     (&kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}).DialFunc,
		ClientID: cfg.ClientID,
	}
	for _, topic := range []string{cfg.LifecycleTopic, cfg.TranscriptTopic, cfg.AnalysisTopic} {
		if topic == "" {
			continue
		}
		p.writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion:   p.completion(topic),
			Transport:    transport,
		}
	}
	p.enabled = true

	p.log.Info().
		Strs("brokers", cfg.Brokers).
		Str("lifecycleTopic", cfg.LifecycleTopic).
		Str("transcriptTopic", cfg.TranscriptTopic).
		Str("analysisTopic", cfg.AnalysisTopic).
		Msg("Kafka publisher initialized")
	return p
}

func (p *Publisher) SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason) {
	p.publish(p.topics.LifecycleTopic, Event{Type: "state", SessionID: sessionID, State: state, Reason: string(reason)})
}

func (p *Publisher) TranscriptAppended(sessionID string, entry domain.TranscriptEntry) {
	p.publish(p.topics.TranscriptTopic, Event{Type: "transcript", SessionID: sessionID, Entry: &entry})
}

func (p *Publisher) SpeakerChanged(sessionID string, highlight *domain.SpeakerIdentity) {
	p.publish(p.topics.LifecycleTopic, Event{Type: "speaker", SessionID: sessionID, Highlight: highlight})
}

// FrameUpdated is not published; frames are display-only.
func (p *Publisher) FrameUpdated(string, *domain.Frame) {}

// RemainingTimeChanged is not published; the countdown is derivable from state events.
func (p *Publisher) RemainingTimeChanged(string, int) {}

func (p *Publisher) AnalysisReady(result domain.AnalysisResult) {
	p.publish(p.topics.AnalysisTopic, Event{Type: "analysis", SessionID: result.SessionID, Analysis: &result})
}

func (p *Publisher) SessionError(code domain.ErrorCode, detail string) {
	p.publish(p.topics.LifecycleTopic, Event{Type: "error", ErrorCode: code, ErrorDetail: detail})
}

func (p *Publisher) publish(topic string, event Event) {
	if topic == "" {
		return
	}
	event.Timestamp = p.now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		p.metrics.RecordPublish(topic, err)
		return
	}

	p.log.Debug().
		Str("topic", topic).
		Str("key", event.SessionID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	writer := p.writers[topic]
	if !p.enabled || writer == nil {
		p.metrics.RecordPublish(topic, nil)
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event.Type)},
			{Key: "clientId", Value: []byte(p.clientID)},
		},
	}
	if err := writer.WriteMessages(context.Background(), msg); err != nil {
		p.log.Error().Err(err).Str("topic", topic).Str("key", event.SessionID).Msg("Failed to write to Kafka")
		p.metrics.RecordPublish(topic, err)
	}
}

// completion records async write outcomes for topic.
func (p *Publisher) completion(topic string) func([]kafka.Message, error) {
	return func(messages []kafka.Message, err error) {
		for range messages {
			p.metrics.RecordPublish(topic, err)
		}
		if err != nil {
			p.log.Error().Err(err).Str("topic", topic).Int("messages", len(messages)).Msg("Async Kafka write failed")
		}
	}
}

// Close flushes and closes the writers.
func (p *Publisher) Close() error {
	var errs []error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil {
			p.log.Error().Err(err).Str("topic", topic).Msg("Error closing writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
