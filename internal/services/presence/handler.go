package presence

import (
	"net/http"

	"mdlive/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The content API is CORS-open; the channel follows suit.
		return true
	},
}

// Handler upgrades HTTP requests into signaling channel sessions.
type Handler struct {
	manager *RoomManager
	logger  zerolog.Logger
}

func NewHandler(manager *RoomManager, logger zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger.With().Str("component", "signal_handler").Logger(),
	}
}

// HandleChannel accepts one signaling connection. Room membership is not
// established here: it arrives as room events on the open channel, so a
// single connection can serve every document session of one client.
func (h *Handler) HandleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := newSession(conn, h.manager, h.logger)
	h.logger.Debug().Str("session", session.ID).Str("remote", r.RemoteAddr).Msg("channel open")

	metrics.ChannelConnections.Inc()
	go session.writePump()
	go func() {
		defer metrics.ChannelConnections.Dec()
		session.readPump(r.Context())
	}()
}
