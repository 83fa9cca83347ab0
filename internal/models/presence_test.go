package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomKeyFor_EscapesPathSeparator(t *testing.T) {
	key := RoomKeyFor("repo1", "/notes.md")
	require.Equal(t, "repo1%2Fnotes.md", key)
}

func TestRoomKeyFor_StableAcrossSessions(t *testing.T) {
	a := RoomKeyFor("3f2b6a10-9f6e-4b8e-9c77-1f0f8a2d4e55", "/docs/design notes.md")
	b := RoomKeyFor("3f2b6a10-9f6e-4b8e-9c77-1f0f8a2d4e55", "/docs/design notes.md")
	require.Equal(t, a, b)
}

func TestRoomKeyFor_DistinguishesLibraries(t *testing.T) {
	a := RoomKeyFor("repo1", "/notes.md")
	b := RoomKeyFor("repo2", "/notes.md")
	require.NotEqual(t, a, b)
}

func TestEscapePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/notes.md", "%2Fnotes.md"},
		{"/a b.md", "%2Fa%20b.md"},
		{"/sub/dir/file.md", "%2Fsub%2Fdir%2Ffile.md"},
		{"plain-name_1.md", "plain-name_1.md"},
		{"!~*'()", "!~*'()"},
		{"/q?&=.md", "%2Fq%3F%26%3D.md"},
		// Multi-byte runes escape per UTF-8 byte.
		{"/é.md", "%2F%C3%A9.md"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, EscapePath(tc.in), "input %q", tc.in)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload, err := json.Marshal(RoomMessage{Room: "repo1%2Fnotes.md", User: "alice"})
	require.NoError(t, err)

	raw, err := json.Marshal(Envelope{Event: EventJoinRoom, Data: payload})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, EventJoinRoom, env.Event)

	var msg RoomMessage
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	require.Equal(t, "alice", msg.User)
	require.Equal(t, "repo1%2Fnotes.md", msg.Room)
}
