package presence

import (
	"encoding/json"
	"sync"

	"mdlive/internal/metrics"
	"mdlive/internal/models"

	"github.com/rs/zerolog"
)

// RoomManager routes signaling events between the sessions of a room. All
// membership state is owned by a single event-loop goroutine, so handlers
// for the same room never run concurrently and no lock is needed around the
// room maps.
type RoomManager struct {
	logger zerolog.Logger

	// roomKey -> member sessions. A session may be a member of several
	// rooms at once: the channel connection is shared by every document
	// session open in one client process.
	rooms map[string]map[*Session]bool

	joins    chan roomRequest
	leaves   chan roomRequest
	edits    chan roomRequest
	detached chan *Session

	done    chan struct{}
	stopped chan struct{}
	stop    sync.Once
}

type roomRequest struct {
	session *Session
	room    string
	user    string
}

func NewRoomManager(logger zerolog.Logger) *RoomManager {
	return &RoomManager{
		logger:   logger.With().Str("component", "room_manager").Logger(),
		rooms:    make(map[string]map[*Session]bool),
		joins:    make(chan roomRequest, 64),
		leaves:   make(chan roomRequest, 64),
		edits:    make(chan roomRequest, 256),
		detached: make(chan *Session, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the event loop.
func (m *RoomManager) Start() {
	go func() {
		for {
			select {
			case <-m.done:
				// Closing member connections stays inside the loop goroutine,
				// which owns the room maps until it exits.
				for _, members := range m.rooms {
					for s := range members {
						s.close()
					}
				}
				m.rooms = make(map[string]map[*Session]bool)
				close(m.stopped)
				return
			case req := <-m.joins:
				m.handleJoin(req)
			case req := <-m.leaves:
				m.handleLeave(req)
			case req := <-m.edits:
				m.handleEditing(req)
			case s := <-m.detached:
				m.handleDetach(s)
			}
		}
	}()
}

// Shutdown stops the event loop and closes every member connection. It only
// returns once the loop has exited. Safe to call more than once; Start must
// have been called first.
func (m *RoomManager) Shutdown() {
	m.stop.Do(func() { close(m.done) })
	<-m.stopped
}

// submit hands one event to the loop, dropping it if the manager has shut
// down. The pumps must never block on an unserviced channel.
func (m *RoomManager) submit(ch chan roomRequest, req roomRequest) {
	select {
	case ch <- req:
	case <-m.done:
	}
}

// handleJoin adds the session to the room, announces the newcomer to the
// existing members and rebroadcasts the full roster to everyone, newcomer
// included. The roster broadcast is what actually mutates client rosters;
// the join announcement only drives a transient notification.
func (m *RoomManager) handleJoin(req roomRequest) {
	metrics.RoomEventsTotal.WithLabelValues(models.EventJoinRoom).Inc()

	members := m.rooms[req.room]
	if members == nil {
		members = make(map[*Session]bool)
		m.rooms[req.room] = members
	}
	members[req.session] = true
	req.session.rooms[req.room] = req.user

	m.logger.Debug().
		Str("room", req.room).
		Str("user", req.user).
		Int("members", len(members)).
		Msg("user joined room")

	m.sendToRoom(req.room, models.EventUserJoined, req.user, req.session)
	m.broadcastRoster(req.room)
	metrics.RoomsActive.Set(float64(len(m.rooms)))
}

// handleLeave removes the session from the room and tells the remaining
// members, followed by a fresh roster.
func (m *RoomManager) handleLeave(req roomRequest) {
	metrics.RoomEventsTotal.WithLabelValues(models.EventLeaveRoom).Inc()
	m.removeFromRoom(req.session, req.room, req.user)
	metrics.RoomsActive.Set(float64(len(m.rooms)))
}

// handleEditing relays an edit-intent broadcast to the other members. Each
// received event is relayed exactly once; coalescing is the sender's job.
func (m *RoomManager) handleEditing(req roomRequest) {
	metrics.RoomEventsTotal.WithLabelValues(models.EventEditing).Inc()
	if !m.rooms[req.room][req.session] {
		// Events for rooms the session never joined are dropped; honoring
		// room scoping here keeps notifications from leaking across rooms.
		m.logger.Warn().
			Str("room", req.room).
			Str("user", req.user).
			Msg("editing event for non-member room dropped")
		return
	}
	m.sendToRoom(req.room, models.EventUserEditing, req.user, req.session)
}

// handleDetach is the implicit leave when a socket closes: the session
// leaves every room it was a member of.
func (m *RoomManager) handleDetach(s *Session) {
	for room, user := range s.rooms {
		m.removeFromRoom(s, room, user)
	}
	s.close()
	metrics.RoomsActive.Set(float64(len(m.rooms)))
}

func (m *RoomManager) removeFromRoom(s *Session, room, user string) {
	members := m.rooms[room]
	if members == nil || !members[s] {
		return
	}
	delete(members, s)
	delete(s.rooms, room)

	if len(members) == 0 {
		delete(m.rooms, room)
		return
	}

	m.logger.Debug().
		Str("room", room).
		Str("user", user).
		Int("members", len(members)).
		Msg("user left room")

	m.sendToRoom(room, models.EventUserLeft, user, nil)
	m.broadcastRoster(room)
}

// broadcastRoster sends the complete membership of a room to every member.
// Clients rebuild their roster wholesale from this payload.
func (m *RoomManager) broadcastRoster(room string) {
	members := m.rooms[room]
	roster := make(models.RosterPayload, len(members))
	for s := range members {
		if user, ok := s.rooms[room]; ok {
			roster[user] = models.PresenceEntry{User: user}
		}
	}
	m.sendToRoom(room, models.EventUpdateUsers, roster, nil)
	metrics.RosterBroadcastsTotal.Inc()
}

// sendToRoom marshals one envelope and queues it on every member except
// skip. A member whose send buffer is full is detached rather than allowed
// to stall the loop.
func (m *RoomManager) sendToRoom(room, event string, data any, skip *Session) {
	payload, err := json.Marshal(data)
	if err != nil {
		m.logger.Error().Err(err).Str("event", event).Msg("marshal broadcast payload")
		return
	}
	frame, err := json.Marshal(models.Envelope{Event: event, Room: room, Data: payload})
	if err != nil {
		m.logger.Error().Err(err).Str("event", event).Msg("marshal broadcast envelope")
		return
	}

	for s := range m.rooms[room] {
		if s == skip {
			continue
		}
		select {
		case s.send <- frame:
		default:
			m.logger.Warn().Str("session", s.ID).Msg("send buffer full, detaching session")
			metrics.SlowClientEvictions.Inc()
			delete(m.rooms[room], s)
			delete(s.rooms, room)
			s.close()
		}
	}
}
