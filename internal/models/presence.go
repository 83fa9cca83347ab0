package models

import (
	"encoding/json"
	"strings"
)

// Signaling channel event names. These are wire-level identifiers shared by
// server and client; changing one breaks every deployed peer.
const (
	// Client to server.
	EventJoinRoom  = "room"
	EventLeaveRoom = "leave room"
	EventEditing   = "editing event"

	// Server to client.
	EventUserJoined  = "new user join"
	EventUserLeft    = "user left room"
	EventUpdateUsers = "update users"
	EventUserEditing = "user editing"
)

// Envelope frames every message on the signaling channel. Room is set on
// server-to-client frames so a client multiplexing several document sessions
// over one connection can scope dispatch to the right session.
type Envelope struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomMessage is the payload of room, leave room and editing event frames.
type RoomMessage struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// PresenceEntry describes one user known to be present in a room.
type PresenceEntry struct {
	User string `json:"user"`
}

// RosterPayload is the data of an update users frame: user identity to entry.
type RosterPayload map[string]PresenceEntry

// RoomKeyFor derives the room key for a file in a library. Two sessions
// viewing the same path in the same library always derive the same key.
// Distinct libraries could in principle collide if one library's id were a
// prefix of another's escaped path; library ids are fixed-length UUIDs, so
// the prefix is unambiguous in practice.
func RoomKeyFor(libraryID, path string) string {
	return libraryID + EscapePath(path)
}

// EscapePath percent-encodes a document path byte for byte, leaving only the
// characters encodeURIComponent leaves: letters, digits, and -_.!~*'().
// Notably the path separator itself is escaped, which keeps the key a single
// opaque token.
func EscapePath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if escapeExempt(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

func escapeExempt(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
