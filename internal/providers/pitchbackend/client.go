package pitchbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pitchroom/internal/domain"
	"pitchroom/internal/observability/logging"
)

// ErrClosed is returned by calls made after the client was closed.
var ErrClosed = errors.New("pitchbackend: client closed")

const maxErrorBody = 512

// Config controls the backend endpoints and timeouts.
type Config struct {
	BaseURL        string
	StartPath      string
	QnAPath        string
	StopPath       string
	AnalysisPath   string
	VideoPath      string
	TranscriptPath string
	HTTPTimeout    time.Duration
	DialTimeout    time.Duration
	CloseGrace     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8000",
		StartPath:      "/start_chat",
		QnAPath:        "/begin_qna",
		StopPath:       "/stop",
		AnalysisPath:   "/generate_analysis",
		VideoPath:      "/ws",
		TranscriptPath: "/ws_transcript",
		HTTPTimeout:    10 * time.Second,
		DialTimeout:    5 * time.Second,
		CloseGrace:     time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaults.BaseURL
	}
	fill := func(value *string, fallback string) {
		if strings.TrimSpace(*value) == "" {
			*value = fallback
		}
	}
	fill(&c.StartPath, defaults.StartPath)
	fill(&c.QnAPath, defaults.QnAPath)
	fill(&c.StopPath, defaults.StopPath)
	fill(&c.AnalysisPath, defaults.AnalysisPath)
	fill(&c.VideoPath, defaults.VideoPath)
	fill(&c.TranscriptPath, defaults.TranscriptPath)
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaults.HTTPTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = defaults.CloseGrace
	}
	return c
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.Code, e.Body)
}

// Client implements ports.Backend and ports.ChannelDialer against the pitch
// backend.
type Client struct {
	cfg    Config
	http   *http.Client
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		log: logging.WithComponent("pitchbackend"),
	}
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) StartSession(ctx context.Context) error {
	_, err := c.call(ctx, "start session", http.MethodGet, c.cfg.StartPath, nil, c.cfg.HTTPTimeout)
	return err
}

func (c *Client) BeginQnA(ctx context.Context) error {
	_, err := c.call(ctx, "begin Q&A", http.MethodGet, c.cfg.QnAPath, nil, c.cfg.HTTPTimeout)
	return err
}

func (c *Client) StopSession(ctx context.Context) error {
	_, err := c.call(ctx, "stop session", http.MethodGet, c.cfg.StopPath, nil, c.cfg.HTTPTimeout)
	return err
}

// GenerateAnalysis posts the transcript and returns the backend's JSON
// verbatim as the result payload. Scoring can take far longer than a control
// call, so only ctx bounds it.
func (c *Client) GenerateAnalysis(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	if req.Transcript == nil {
		req.Transcript = []domain.TranscriptLine{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("encode analysis request: %w", err)
	}

	payload, err := c.call(ctx, "generate analysis", http.MethodPost, c.cfg.AnalysisPath, body, 0)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	payload = bytes.TrimSpace(payload)
	if !json.Valid(payload) {
		return domain.AnalysisResult{}, errors.New("generate analysis: response is not valid JSON")
	}
	return domain.AnalysisResult{Payload: json.RawMessage(payload)}, nil
}

// Ping reports whether the backend answers HTTP at all.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s: %w", c.cfg.BaseURL, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return &StatusError{Op: "ping", Code: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections. Later calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// call performs one JSON request. A positive timeout bounds the whole
// exchange, body read included.
func (c *Client) call(ctx context.Context, op, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}

	c.log.Debug().
		Str("op", op).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(started)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(payload))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: text}
	}
	return payload, nil
}
