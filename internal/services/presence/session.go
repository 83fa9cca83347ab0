package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mdlive/internal/middleware"
	"mdlive/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Session is one signaling channel connection. A session carries no user
// identity of its own; identity arrives with each room join, and one session
// may hold memberships in several rooms.
type Session struct {
	ID      string
	conn    *websocket.Conn
	send    chan []byte
	manager *RoomManager
	logger  zerolog.Logger

	// rooms maps room key to the user identity that joined it. Owned by
	// the manager's event loop; never touched from the pumps.
	rooms map[string]string

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, manager *RoomManager, logger zerolog.Logger) *Session {
	id := ksuid.New().String()
	return &Session{
		ID:      id,
		conn:    conn,
		send:    make(chan []byte, 256),
		manager: manager,
		logger:  logger.With().Str("session", id).Logger(),
		rooms:   make(map[string]string),
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.send)
	})
}

// readPump parses inbound envelopes and forwards them to the manager. It
// owns the connection's read side; on any read error the session detaches
// from every room.
func (s *Session) readPump(ctx context.Context) {
	defer func() {
		select {
		case s.manager.detached <- s:
		case <-s.manager.done:
			s.close()
		}
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Warn().Err(err).Msg("malformed envelope dropped")
			continue
		}

		_, span := middleware.StartSpan(ctx, "Signal.ProcessEvent",
			attribute.String("session.id", s.ID),
			attribute.String("event", env.Event),
		)

		var msg models.RoomMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil || msg.Room == "" {
			s.logger.Warn().Str("event", env.Event).Msg("malformed room message dropped")
			span.End()
			continue
		}

		req := roomRequest{session: s, room: msg.Room, user: msg.User}
		switch env.Event {
		case models.EventJoinRoom:
			s.manager.submit(s.manager.joins, req)
		case models.EventLeaveRoom:
			s.manager.submit(s.manager.leaves, req)
		case models.EventEditing:
			s.manager.submit(s.manager.edits, req)
		default:
			s.logger.Debug().Str("event", env.Event).Msg("unknown event dropped")
		}

		span.End()
	}
}

// writePump flushes the send buffer to the socket and keeps the connection
// alive with pings. Its own goroutine prevents a slow socket from blocking
// the manager loop.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			// Drain whatever else is already queued.
			n := len(s.send)
			for i := 0; i < n; i++ {
				frame, ok := <-s.send
				if !ok {
					s.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
