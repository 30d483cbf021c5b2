package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/livetts/internal/observability"
)

// feedFrame is one JSON message from the live feed.
type feedFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type feedData struct {
	UniqueID    string        `json:"uniqueId"`
	Nickname    string        `json:"nickname"`
	Comment     string        `json:"comment"`
	GiftName    string        `json:"giftName"`
	RepeatCount int           `json:"repeatCount"`
	Reason      string        `json:"reason"`
	Message     string        `json:"message"`
	Status      int           `json:"status"`
	RoomID      string        `json:"roomId"`
	RoomInfo    *feedRoomInfo `json:"roomInfo"`
}

type feedRoomInfo struct {
	ID    string `json:"id"`
	Owner struct {
		Nickname string `json:"nickname"`
	} `json:"owner"`
}

// WebSocketConfig configures a WebSocketSession.
type WebSocketConfig struct {
	URL              string // Feed endpoint, uniqueId is appended as a query parameter
	Username         string
	APIKey           string // Sent as a bearer token when set
	HandshakeTimeout time.Duration
}

// WebSocketSession reads a live room feed over a WebSocket.
type WebSocketSession struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	logger zerolog.Logger

	events chan Event
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketSession creates a session. Nothing is dialled until Connect.
func NewWebSocketSession(cfg WebSocketConfig) *WebSocketSession {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	return &WebSocketSession{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		logger: observability.Component("live_session").With().Str("username", cfg.Username).Logger(),
		events: make(chan Event, 256),
		closed: make(chan struct{}),
	}
}

// Events returns the feed's event channel.
func (s *WebSocketSession) Events() <-chan Event {
	return s.events
}

// Connect dials the feed and waits for its first frame. Any previous
// connection is dropped without emitting Disconnected.
func (s *WebSocketSession) Connect(ctx context.Context) (RoomInfo, error) {
	select {
	case <-s.closed:
		return RoomInfo{}, errors.New("session closed")
	default:
	}

	s.dropConn()

	feedURL, err := s.feedURL()
	if err != nil {
		return RoomInfo{}, err
	}

	header := http.Header{}
	if s.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	conn, resp, err := s.dialer.DialContext(ctx, feedURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return RoomInfo{}, &StatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("feed handshake failed: %w", err)}
		}
		return RoomInfo{}, fmt.Errorf("failed to dial feed: %w", err)
	}

	info, first, err := s.readFirstFrame(ctx, conn)
	if err != nil {
		conn.Close()
		return RoomInfo{}, err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn, first)

	return info, nil
}

// Close ends the session. The events channel is never closed.
func (s *WebSocketSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	s.dropConn()
	return nil
}

func (s *WebSocketSession) feedURL() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid feed url: %w", err)
	}
	q := u.Query()
	q.Set("uniqueId", s.cfg.Username)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *WebSocketSession) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// readFirstFrame returns the room info from a leading "connected" frame.
// Any other leading frame is returned so the read loop can deliver it.
func (s *WebSocketSession) readFirstFrame(ctx context.Context, conn *websocket.Conn) (RoomInfo, Event, error) {
	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	_, message, err := conn.ReadMessage()
	if err != nil {
		return RoomInfo{}, nil, fmt.Errorf("failed to read first frame: %w", err)
	}

	var frame feedFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return RoomInfo{}, nil, fmt.Errorf("invalid first frame: %w", err)
	}

	var data feedData
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return RoomInfo{}, nil, fmt.Errorf("invalid first frame data: %w", err)
		}
	}

	switch frame.Event {
	case "connected":
		info := RoomInfo{RoomID: data.RoomID}
		if data.RoomInfo != nil {
			info.DisplayName = data.RoomInfo.Owner.Nickname
			if info.RoomID == "" {
				info.RoomID = data.RoomInfo.ID
			}
		}
		return info, nil, nil

	case "error":
		msg := data.Message
		if msg == "" {
			msg = "feed refused connection"
		}
		if data.Status != 0 {
			return RoomInfo{}, nil, &StatusError{StatusCode: data.Status, Err: errors.New(msg)}
		}
		return RoomInfo{}, nil, errors.New(msg)
	}

	return RoomInfo{}, decodeEvent(frame.Event, data), nil
}

func (s *WebSocketSession) readLoop(conn *websocket.Conn, first Event) {
	if first != nil {
		s.emit(first)
	}

	reason := ""
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			reason = err.Error()
			break
		}

		var frame feedFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to parse feed frame")
			continue
		}

		var data feedData
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &data); err != nil {
				s.logger.Warn().Err(err).Str("event", frame.Event).Msg("Failed to parse feed frame data")
				continue
			}
		}

		if frame.Event == "disconnected" || frame.Event == "streamEnd" {
			reason = data.Reason
			if reason == "" {
				reason = frame.Event
			}
			break
		}

		if ev := decodeEvent(frame.Event, data); ev != nil {
			s.emit(ev)
		}
	}

	// Only the current connection reports its end; a replaced or closed
	// one goes quietly.
	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()

	if current {
		s.emit(Disconnected{Reason: reason})
	}
}

func (s *WebSocketSession) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func decodeEvent(event string, data feedData) Event {
	switch event {
	case "chat":
		return Chat{User: data.UniqueID, Text: data.Comment}
	case "gift":
		return Gift{User: data.UniqueID, GiftName: data.GiftName, Count: data.RepeatCount}
	}
	return nil
}
