package pitchbackend

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pitchroom/internal/domain"
	"pitchroom/internal/ports"
)

// Open dials the websocket for kind.
func (c *Client) Open(ctx context.Context, kind domain.ChannelKind) (ports.ChannelStream, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	path := c.cfg.TranscriptPath
	if kind == domain.ChannelVideo {
		path = c.cfg.VideoPath
	}
	wsURL, err := buildChannelURL(c.cfg.BaseURL, path)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			err = &StatusError{Op: fmt.Sprintf("open %s channel", kind), Code: resp.StatusCode}
		}
		return nil, fmt.Errorf("failed to connect to %s channel: %w", kind, err)
	}

	stream := &channelStream{
		conn:     conn,
		kind:     kind,
		grace:    c.cfg.CloseGrace,
		messages: make(chan ports.ChannelMessage, 64),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		log:      c.log.With().Str("channel", string(kind)).Logger(),
	}
	go stream.readLoop()

	stream.log.Debug().Str("url", wsURL).Msg("channel open")
	return stream, nil
}

type channelStream struct {
	conn  *websocket.Conn
	kind  domain.ChannelKind
	grace time.Duration
	log   zerolog.Logger

	messages chan ports.ChannelMessage
	closing  chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func (s *channelStream) Messages() <-chan ports.ChannelMessage {
	return s.messages
}

func (s *channelStream) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close sends a close frame, tears down the connection, and waits for the
// read loop to exit. It is safe to call more than once.
func (s *channelStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		deadline := time.Now().Add(s.grace)
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, message, deadline)
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *channelStream) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *channelStream) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *channelStream) readLoop() {
	defer close(s.done)
	defer close(s.messages)

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
			default:
				s.setErr(fmt.Errorf("failed to read %s channel: %w", s.kind, err))
			}
			return
		}

		msg := ports.ChannelMessage{Binary: messageType == websocket.BinaryMessage, Data: payload}
		select {
		case s.messages <- msg:
		case <-s.closing:
			return
		}
	}
}

func buildChannelURL(base, path string) (string, error) {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	channelURL, err := url.Parse(base + path)
	if err != nil {
		return "", fmt.Errorf("invalid backend base URL: %w", err)
	}
	if channelURL.Scheme != "ws" && channelURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid backend base URL scheme %q", channelURL.Scheme)
	}
	return channelURL.String(), nil
}
