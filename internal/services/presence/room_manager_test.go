package presence

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mdlive/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) string {
	t.Helper()

	manager := NewRoomManager(zerolog.Nop())
	manager.Start()
	t.Cleanup(manager.Shutdown)

	handler := NewHandler(manager, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleChannel))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTest(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event, room, user string) {
	t.Helper()
	payload, err := json.Marshal(models.RoomMessage{Room: room, User: user})
	require.NoError(t, err)
	frame, err := json.Marshal(models.Envelope{Event: event, Data: payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env models.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func decodeRoster(t *testing.T, env models.Envelope) []string {
	t.Helper()
	var payload models.RosterPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	users := make([]string, 0, len(payload))
	for u := range payload {
		users = append(users, u)
	}
	return users
}

func TestJoinBroadcastsNewcomerAndRoster(t *testing.T) {
	url := startTestServer(t)
	room := models.RoomKeyFor("repo1", "/notes.md")

	alice := dialTest(t, url)
	sendEvent(t, alice, models.EventJoinRoom, room, "alice")

	// The joiner receives the roster containing itself.
	env := readEvent(t, alice)
	require.Equal(t, models.EventUpdateUsers, env.Event)
	require.Equal(t, room, env.Room)
	require.ElementsMatch(t, []string{"alice"}, decodeRoster(t, env))

	bob := dialTest(t, url)
	sendEvent(t, bob, models.EventJoinRoom, room, "bob")

	// Existing members get the join announcement, then the new roster.
	env = readEvent(t, alice)
	require.Equal(t, models.EventUserJoined, env.Event)
	var joined string
	require.NoError(t, json.Unmarshal(env.Data, &joined))
	require.Equal(t, "bob", joined)

	env = readEvent(t, alice)
	require.Equal(t, models.EventUpdateUsers, env.Event)
	require.ElementsMatch(t, []string{"alice", "bob"}, decodeRoster(t, env))

	// The newcomer only gets the roster, not its own announcement.
	env = readEvent(t, bob)
	require.Equal(t, models.EventUpdateUsers, env.Event)
	require.ElementsMatch(t, []string{"alice", "bob"}, decodeRoster(t, env))
}

func TestLeaveNotifiesRemainingMembers(t *testing.T) {
	url := startTestServer(t)
	room := models.RoomKeyFor("repo1", "/notes.md")

	alice := dialTest(t, url)
	sendEvent(t, alice, models.EventJoinRoom, room, "alice")
	readEvent(t, alice) // own roster

	bob := dialTest(t, url)
	sendEvent(t, bob, models.EventJoinRoom, room, "bob")
	readEvent(t, alice) // join announcement
	readEvent(t, alice) // roster
	readEvent(t, bob)   // roster

	sendEvent(t, bob, models.EventLeaveRoom, room, "bob")

	env := readEvent(t, alice)
	require.Equal(t, models.EventUserLeft, env.Event)
	var left string
	require.NoError(t, json.Unmarshal(env.Data, &left))
	require.Equal(t, "bob", left)

	env = readEvent(t, alice)
	require.Equal(t, models.EventUpdateUsers, env.Event)
	require.ElementsMatch(t, []string{"alice"}, decodeRoster(t, env))
}

func TestSocketCloseActsAsLeave(t *testing.T) {
	url := startTestServer(t)
	room := models.RoomKeyFor("repo1", "/notes.md")

	alice := dialTest(t, url)
	sendEvent(t, alice, models.EventJoinRoom, room, "alice")
	readEvent(t, alice)

	bob := dialTest(t, url)
	sendEvent(t, bob, models.EventJoinRoom, room, "bob")
	readEvent(t, alice)
	readEvent(t, alice)
	readEvent(t, bob)

	bob.Close()

	env := readEvent(t, alice)
	require.Equal(t, models.EventUserLeft, env.Event)
	env = readEvent(t, alice)
	require.Equal(t, models.EventUpdateUsers, env.Event)
	require.ElementsMatch(t, []string{"alice"}, decodeRoster(t, env))
}

func TestEditingRelayedToPeersOnly(t *testing.T) {
	url := startTestServer(t)
	room := models.RoomKeyFor("repo1", "/notes.md")

	alice := dialTest(t, url)
	sendEvent(t, alice, models.EventJoinRoom, room, "alice")
	readEvent(t, alice)

	bob := dialTest(t, url)
	sendEvent(t, bob, models.EventJoinRoom, room, "bob")
	readEvent(t, alice)
	readEvent(t, alice)
	readEvent(t, bob)

	sendEvent(t, alice, models.EventEditing, room, "alice")

	env := readEvent(t, bob)
	require.Equal(t, models.EventUserEditing, env.Event)
	require.Equal(t, room, env.Room)
	var editor string
	require.NoError(t, json.Unmarshal(env.Data, &editor))
	require.Equal(t, "alice", editor)

	// The sender hears nothing back.
	alice.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := alice.ReadMessage()
	require.Error(t, err)
}

func TestNoCrossRoomLeakage(t *testing.T) {
	url := startTestServer(t)
	room1 := models.RoomKeyFor("repo1", "/notes.md")
	room2 := models.RoomKeyFor("repo1", "/other.md")

	alice := dialTest(t, url)
	sendEvent(t, alice, models.EventJoinRoom, room2, "alice")
	env := readEvent(t, alice)
	require.Equal(t, models.EventUpdateUsers, env.Event)
	require.Equal(t, room2, env.Room)

	bob := dialTest(t, url)
	sendEvent(t, bob, models.EventJoinRoom, room1, "bob")
	readEvent(t, bob)

	sendEvent(t, bob, models.EventEditing, room1, "bob")

	// Nothing room1-scoped reaches the room2 member.
	alice.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := alice.ReadMessage()
	require.Error(t, err)
}

func TestEditingForUnjoinedRoomDropped(t *testing.T) {
	url := startTestServer(t)
	room := models.RoomKeyFor("repo1", "/notes.md")

	alice := dialTest(t, url)
	sendEvent(t, alice, models.EventJoinRoom, room, "alice")
	readEvent(t, alice)

	// An intruder who never joined the room broadcasts into it.
	mallory := dialTest(t, url)
	sendEvent(t, mallory, models.EventEditing, room, "mallory")

	alice.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := alice.ReadMessage()
	require.Error(t, err)
}

func TestSameUserTwoConnectionsSingleRosterEntry(t *testing.T) {
	url := startTestServer(t)
	room := models.RoomKeyFor("repo1", "/notes.md")

	first := dialTest(t, url)
	sendEvent(t, first, models.EventJoinRoom, room, "alice")
	readEvent(t, first)

	second := dialTest(t, url)
	sendEvent(t, second, models.EventJoinRoom, room, "alice")
	readEvent(t, first) // join announcement
	env := readEvent(t, first)
	require.Equal(t, models.EventUpdateUsers, env.Event)
	require.ElementsMatch(t, []string{"alice"}, decodeRoster(t, env))
}

func TestShutdownClosesMembersAndReturns(t *testing.T) {
	manager := NewRoomManager(zerolog.Nop())
	manager.Start()

	handler := NewHandler(manager, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleChannel))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	room := models.RoomKeyFor("repo1", "/notes.md")

	alice := dialTest(t, url)
	sendEvent(t, alice, models.EventJoinRoom, room, "alice")
	readEvent(t, alice) // roster

	// Shutdown must return once the event loop has let go of the room
	// state, not hang on it.
	returned := make(chan struct{})
	go func() {
		manager.Shutdown()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return")
	}

	// The member connection is torn down.
	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := alice.ReadMessage(); err != nil {
			break
		}
	}

	// Safe to call again, and a connection detaching now must not block on
	// the stopped loop.
	manager.Shutdown()
	late := dialTest(t, url)
	late.Close()
}
