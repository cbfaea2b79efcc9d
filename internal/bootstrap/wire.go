package bootstrap

import (
	"errors"

	"pitchroom/internal/config"
	"pitchroom/internal/events"
	"pitchroom/internal/observability/logging"
	"pitchroom/internal/ports"
	"pitchroom/internal/providers/pitchbackend"
	"pitchroom/internal/rules"
	"pitchroom/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Backend    *pitchbackend.Client
	Rules      *rules.Engine
	Publisher  *events.Publisher
	Config     config.Config
}

// Build loads configuration and wires all dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return Assemble(cfg, eventSink)
}

// Assemble wires the runtime graph from an already loaded configuration.
// Logging is initialized first so every component picks up the configured
// logger.
func Assemble(cfg config.Config, eventSink ports.EventSink) (Services, error) {
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	rulesEngine, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	backend := NewBackend(cfg)

	publisher := events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		ClientID:        cfg.Kafka.ClientID,
		LifecycleTopic:  cfg.Kafka.LifecycleTopic,
		TranscriptTopic: cfg.Kafka.TranscriptTopic,
		AnalysisTopic:   cfg.Kafka.AnalysisTopic,
	})

	controller := usecase.NewSessionController(
		backend,
		backend,
		rulesEngine,
		events.NewFanout(eventSink, publisher),
		usecase.Config{
			SessionDuration: cfg.Session.Duration(),
			TickInterval:    cfg.Session.TickInterval(),
			QueueSize:       cfg.Session.QueueSize,
			DecodeWorkers:   cfg.Session.DecodeWorkers,
			CloseGrace:      cfg.Session.CloseGrace(),
			AnalysisTimeout: cfg.Backend.AnalysisTimeout(),
			Judges:          cfg.Judges,
		},
	)

	log := logging.WithComponent("bootstrap")
	log.Info().
		Str("backend", cfg.Backend.BaseURL).
		Str("config", cfg.Source).
		Int("rules", rulesEngine.Len()).
		Int("judges", len(cfg.Judges)).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("runtime assembled")

	return Services{
		Controller: controller,
		Backend:    backend,
		Rules:      rulesEngine,
		Publisher:  publisher,
		Config:     cfg,
	}, nil
}

// NewBackend builds the pitch backend client from the backend and session
// sections of cfg.
func NewBackend(cfg config.Config) *pitchbackend.Client {
	return pitchbackend.NewClient(pitchbackend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		StartPath:      cfg.Backend.StartPath,
		QnAPath:        cfg.Backend.QnAPath,
		StopPath:       cfg.Backend.StopPath,
		AnalysisPath:   cfg.Backend.AnalysisPath,
		VideoPath:      cfg.Backend.VideoPath,
		TranscriptPath: cfg.Backend.TranscriptPath,
		HTTPTimeout:    cfg.Backend.HTTPTimeout(),
		DialTimeout:    cfg.Backend.DialTimeout(),
		CloseGrace:     cfg.Session.CloseGrace(),
	})
}

// Close releases the publisher and backend client. Call it after the
// controller has been shut down.
func (s Services) Close() error {
	var errs []error
	if s.Publisher != nil {
		errs = append(errs, s.Publisher.Close())
	}
	if s.Backend != nil {
		errs = append(errs, s.Backend.Close())
	}
	return errors.Join(errs...)
}
