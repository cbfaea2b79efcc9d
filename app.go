package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"pitchroom/internal/bootstrap"
	"pitchroom/internal/domain"
	"pitchroom/internal/observability"
	"pitchroom/internal/observability/logging"
	"pitchroom/internal/usecase"
	"pitchroom/internal/version"
)

const (
	eventSession    = "pitchroom:session"
	eventTranscript = "pitchroom:transcript"
	eventSpeaker    = "pitchroom:speaker"
	eventFrame      = "pitchroom:frame"
	eventTimer      = "pitchroom:timer"
	eventAnalysis   = "pitchroom:analysis"
	eventError      = "pitchroom:error"
)

const shutdownTimeout = 10 * time.Second

type emitFunc func(ctx context.Context, name string, data ...interface{})

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit emitFunc

	services   bootstrap.Services
	controller *usecase.SessionController
	metrics    *observability.Server
	bootErr    error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.controller = services.Controller
	if addr := services.Config.Metrics.Addr; addr != "" {
		server := observability.NewServer(addr, a.controller.Status)
		if err := server.Start(); err != nil {
			log := logging.WithComponent("app")
			log.Warn().Err(err).Msg("metrics server disabled")
		} else {
			a.metrics = server
		}
	}
	a.SessionStateChanged("", domain.SessionStateIdle, domain.SessionReasonReady)
}

// shutdown stops any live session and waits for its analysis handoff.
func (a *App) shutdown(ctx context.Context) {
	if a.controller == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	log := logging.WithComponent("app")
	if err := a.controller.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("session teardown did not finish before exit")
	}
	if err := a.services.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to release services")
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to stop metrics server")
		}
	}
}

// StartSession begins a live pitch session.
func (a *App) StartSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// BeginQnA switches the judges into question mode.
func (a *App) BeginQnA() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.BeginQnA(a.ctx)
}

// StopSession ends the session. The analysis arrives later through
// pitchroom:analysis and TakeAnalysis.
func (a *App) StopSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Stop(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// TakeAnalysis returns the pending analysis once, nil when none is ready.
func (a *App) TakeAnalysis() (*domain.AnalysisResult, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	result, ok := a.controller.TakeAnalysis()
	if !ok {
		return nil, nil
	}
	return &result, nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		status := domain.Status{State: domain.SessionStateIdle}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.controller.Status()
}

func (a *App) GetTranscript() []domain.TranscriptEntry {
	if a.controller == nil {
		return []domain.TranscriptEntry{}
	}
	return a.controller.Transcript()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error(), "version": version.String()}
	}

	cfg := a.services.Config
	return map[string]string{
		"version":         version.String(),
		"backend":         cfg.Backend.BaseURL,
		"configFile":      cfg.Source,
		"rulesFile":       cfg.Rules.Path,
		"judges":          fmt.Sprintf("%d", len(cfg.Judges)),
		"sessionDuration": fmt.Sprintf("%ds", cfg.Session.DurationSeconds),
		"kafka":           fmt.Sprintf("%t", cfg.Kafka.Enabled),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return errors.New("application is not initialized")
	}
	return nil
}

func (a *App) send(name string, data interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason) {
	a.send(eventSession, map[string]string{
		"sessionId": sessionID,
		"state":     string(state),
		"reason":    string(reason),
		"message":   sessionReasonMessage(reason),
	})
}

func (a *App) TranscriptAppended(sessionID string, entry domain.TranscriptEntry) {
	a.send(eventTranscript, map[string]interface{}{
		"sessionId": sessionID,
		"speaker":   entry.Speaker,
		"text":      entry.Text,
		"sequence":  entry.Sequence,
	})
}

// SpeakerChanged emits the judge highlight; a nil identity clears it.
func (a *App) SpeakerChanged(sessionID string, highlight *domain.SpeakerIdentity) {
	payload := map[string]interface{}{"sessionId": sessionID, "highlight": nil}
	if highlight != nil {
		payload["highlight"] = *highlight
	}
	a.send(eventSpeaker, payload)
}

// FrameUpdated emits the frame as a data URL; a nil frame restores the placeholder.
func (a *App) FrameUpdated(sessionID string, frame *domain.Frame) {
	a.send(eventFrame, framePayload(sessionID, frame))
}

func (a *App) RemainingTimeChanged(sessionID string, seconds int) {
	a.send(eventTimer, map[string]interface{}{
		"sessionId": sessionID,
		"remaining": seconds,
		"display":   domain.FormatRemaining(seconds),
	})
}

func (a *App) AnalysisReady(result domain.AnalysisResult) {
	a.send(eventAnalysis, map[string]interface{}{
		"sessionId": result.SessionID,
		"degraded":  result.Degraded,
	})
}

// SessionError emits non-fatal and fatal errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func framePayload(sessionID string, frame *domain.Frame) map[string]interface{} {
	if frame == nil || len(frame.Data) == 0 {
		return map[string]interface{}{"sessionId": sessionID, "handle": "", "dataUrl": ""}
	}
	return map[string]interface{}{
		"sessionId": sessionID,
		"handle":    frame.Handle(),
		"width":     frame.Width,
		"height":    frame.Height,
		"dataUrl":   "data:image/" + frame.Format + ";base64," + base64.StdEncoding.EncodeToString(frame.Data),
	}
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready to pitch"
	case domain.SessionReasonSessionStarted:
		return "Session live"
	case domain.SessionReasonStopping:
		return "Ending session..."
	case domain.SessionReasonSessionStopped:
		return "Session ended. Scoring your pitch..."
	case domain.SessionReasonQnARequested:
		return "Judges are asking questions"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeSessionStart:
		return "Could not start the session"
	case domain.ErrorCodeChannelClosed:
		return "Connection to the judges dropped"
	case domain.ErrorCodeRemoteStop:
		return "Backend did not confirm the stop"
	case domain.ErrorCodeQnA:
		return "Could not start Q&A"
	case domain.ErrorCodeAnalysisHandoff:
		return "Scoring unavailable"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
