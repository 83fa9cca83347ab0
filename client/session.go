package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"mdlive/internal/models"

	"github.com/rs/zerolog"
)

var ErrSessionClosed = errors.New("document session closed")

// SessionState tracks the membership lifecycle of a document session.
type SessionState int32

const (
	StateUnmounted SessionState = iota
	StateJoining
	StateJoined
	StateLeaving
)

// SessionOptions configure one document session.
type SessionOptions struct {
	// EditSignalWindow is the coalescing window for edit-intent broadcasts.
	EditSignalWindow time.Duration

	// Display durations for transient notifications.
	JoinLeaveNotifyTTL time.Duration
	EditingNotifyTTL   time.Duration

	// OnRoster is invoked with the ordered roster after every change.
	OnRoster func([]models.PresenceEntry)

	// OnNotification is invoked once per displayed notification.
	OnNotification func(Notification)
}

// DocSession binds one viewed document to a room on a shared channel. It
// joins the room on open, relays edit intent while editing, maintains the
// collaborator roster and leaves exactly once on close. After Close, no
// inbound event, fetch completion or notification expiry mutates its state.
type DocSession struct {
	channel   *Channel
	libraryID string
	path      string
	key       string
	user      string
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	roster   *Roster
	notifier *Notifier
	edit     *EditSignal

	mu        sync.Mutex
	state     SessionState
	joinEpoch int
	unsubs    []func()
}

// OpenDocumentSession joins the room derived from (libraryID, path) as user.
// The channel is shared and stays open after the session closes.
func OpenDocumentSession(channel *Channel, libraryID, path, user string, logger zerolog.Logger, opts SessionOptions) *DocSession {
	ctx, cancel := context.WithCancel(context.Background())

	s := &DocSession{
		channel:   channel,
		libraryID: libraryID,
		path:      path,
		key:       models.RoomKeyFor(libraryID, path),
		user:      user,
		logger:    logger.With().Str("component", "doc_session").Str("path", path).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateUnmounted,
	}

	s.roster = NewRoster(opts.OnRoster)
	s.notifier = NewNotifier(ctx, opts.JoinLeaveNotifyTTL, opts.EditingNotifyTTL, opts.OnNotification)
	s.edit = NewEditSignal(opts.EditSignalWindow, func() {
		s.emitRoomEvent(models.EventEditing)
	})

	s.subscribe()
	s.join()
	return s
}

// subscribe registers the room-scoped inbound handlers. Each handler
// re-checks liveness before touching state: the shared channel may deliver
// in-flight events for this room after the session is torn down, and those
// must be discarded.
func (s *DocSession) subscribe() {
	s.unsubs = append(s.unsubs,
		s.channel.On(models.EventUserJoined, s.key, func(data json.RawMessage) {
			if user, ok := s.decodeUser(data); ok {
				s.notifier.Push(NotifyJoined, user)
			}
		}),
		s.channel.On(models.EventUserLeft, s.key, func(data json.RawMessage) {
			if user, ok := s.decodeUser(data); ok {
				s.notifier.Push(NotifyLeft, user)
			}
		}),
		s.channel.On(models.EventUserEditing, s.key, func(data json.RawMessage) {
			if user, ok := s.decodeUser(data); ok {
				s.notifier.Push(NotifyEditing, user)
			}
		}),
		s.channel.On(models.EventUpdateUsers, s.key, func(data json.RawMessage) {
			if !s.Alive() {
				return
			}
			var payload models.RosterPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				// Malformed roster degrades to empty rather than failing.
				s.logger.Warn().Err(err).Msg("malformed roster payload")
				payload = nil
			}
			s.roster.Replace(payload)
		}),
		s.channel.OnConnect(func() {
			// Re-establish membership after a reconnect. Skip when the join
			// frame was still queued at connect time: the queue flush has
			// already delivered it on this connection, and a second emit
			// would announce the user to the room twice.
			s.mu.Lock()
			rejoin := s.state == StateJoined && s.joinEpoch < s.channel.currentEpoch()
			s.mu.Unlock()
			if rejoin {
				s.emitJoin()
			}
		}),
	)
}

// join emits the room event exactly once per session lifetime. The channel
// provides no acknowledgment, so the session counts as joined as soon as
// the emit is accepted.
func (s *DocSession) join() {
	s.mu.Lock()
	if s.state != StateUnmounted {
		s.mu.Unlock()
		return
	}
	s.state = StateJoining
	s.mu.Unlock()

	s.emitJoin()

	s.mu.Lock()
	if s.state == StateJoining {
		s.state = StateJoined
	}
	s.mu.Unlock()
}

// Close leaves the room and tears the session down. Safe to call more than
// once; only the first call emits the leave event.
func (s *DocSession) Close() {
	s.mu.Lock()
	if s.state == StateLeaving || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.state = StateLeaving
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.edit.Stop()
	s.emitRoomEvent(models.EventLeaveRoom)
	s.cancel()
	for _, unsub := range unsubs {
		unsub()
	}

	s.mu.Lock()
	s.state = StateUnmounted
	s.mu.Unlock()
}

// NotifyContentChange is the presentation shell's content-change callback.
// Broadcasts are coalesced by the edit signal's window.
func (s *DocSession) NotifyContentChange() {
	if !s.Alive() {
		return
	}
	s.edit.Signal()
}

// Roster returns the current collaborator roster in render order.
func (s *DocSession) Roster() []models.PresenceEntry {
	return s.roster.Users()
}

// Notifications returns the notifications currently on display.
func (s *DocSession) Notifications() []Notification {
	return s.notifier.Active()
}

// State returns the membership lifecycle state.
func (s *DocSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether the session may still mutate state.
func (s *DocSession) Alive() bool {
	return s.ctx.Err() == nil
}

// RoomKey exposes the derived room key.
func (s *DocSession) RoomKey() string {
	return s.key
}

// LoadContent fetches the document body through the gateway. The fetch is
// bound to the session lifetime: a completion that lands after teardown is
// discarded and reported as ErrSessionClosed instead of being applied.
func (s *DocSession) LoadContent(ctx context.Context, gw *Gateway) (string, error) {
	ctx, cancel := s.boundContext(ctx)
	defer cancel()

	content, err := gw.FetchContent(ctx, s.libraryID, s.path)
	if !s.Alive() {
		return "", ErrSessionClosed
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

// SaveContent writes the edited body back through the gateway. Failures are
// recoverable: the caller keeps the content and may retry.
func (s *DocSession) SaveContent(ctx context.Context, gw *Gateway, content string) error {
	ctx, cancel := s.boundContext(ctx)
	defer cancel()

	if err := gw.Save(ctx, s.libraryID, s.path, content); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	return nil
}

func (s *DocSession) boundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return merged, func() { stop(); cancel() }
}

// emitJoin sends the join frame and records the connection epoch it lands
// on, so the reconnect hook can tell a delivered join from one it must
// re-send.
func (s *DocSession) emitJoin() {
	epoch, err := s.channel.emit(models.EventJoinRoom, models.RoomMessage{Room: s.key, User: s.user})
	if err != nil {
		s.logger.Warn().Err(err).Str("event", models.EventJoinRoom).Msg("emit failed")
		return
	}
	s.mu.Lock()
	if epoch > s.joinEpoch {
		s.joinEpoch = epoch
	}
	s.mu.Unlock()
}

func (s *DocSession) emitRoomEvent(event string) {
	err := s.channel.Emit(event, models.RoomMessage{Room: s.key, User: s.user})
	if err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("emit failed")
	}
}

func (s *DocSession) decodeUser(data json.RawMessage) (string, bool) {
	if !s.Alive() {
		return "", false
	}
	var user string
	if err := json.Unmarshal(data, &user); err != nil {
		s.logger.Warn().Err(err).Msg("malformed user payload")
		return "", false
	}
	return user, true
}
