package client

import (
	"testing"

	"mdlive/internal/models"

	"github.com/stretchr/testify/require"
)

func TestRoster_ReplaceRebuildsWholesale(t *testing.T) {
	r := NewRoster(nil)

	r.Replace(models.RosterPayload{
		"alice": {User: "alice"},
		"bob":   {User: "bob"},
	})
	require.Equal(t, []models.PresenceEntry{{User: "alice"}, {User: "bob"}}, r.Users())

	// The next broadcast fully replaces the previous contents.
	r.Replace(models.RosterPayload{
		"carol": {User: "carol"},
	})
	require.Equal(t, []models.PresenceEntry{{User: "carol"}}, r.Users())
}

func TestRoster_IdenticalReplayIsNoOp(t *testing.T) {
	changes := 0
	r := NewRoster(func([]models.PresenceEntry) { changes++ })

	payload := models.RosterPayload{
		"alice": {User: "alice"},
		"bob":   {User: "bob"},
	}
	r.Replace(payload)
	before := r.Users()

	r.Replace(payload)
	require.Equal(t, before, r.Users())
	require.Equal(t, 1, changes, "replaying an identical payload must not fire onChange")
}

func TestRoster_MalformedPayloadYieldsEmpty(t *testing.T) {
	r := NewRoster(nil)
	r.Replace(models.RosterPayload{"alice": {User: "alice"}})

	r.Replace(nil)
	require.Empty(t, r.Users())
	require.Zero(t, r.Len())
}

func TestRoster_FillsMissingUserFromKey(t *testing.T) {
	r := NewRoster(nil)
	r.Replace(models.RosterPayload{"alice": {}})
	require.Equal(t, []models.PresenceEntry{{User: "alice"}}, r.Users())
}

func TestRoster_OrderedByUser(t *testing.T) {
	r := NewRoster(nil)
	r.Replace(models.RosterPayload{
		"zoe":   {User: "zoe"},
		"alice": {User: "alice"},
		"mike":  {User: "mike"},
	})

	users := r.Users()
	require.Equal(t, "alice", users[0].User)
	require.Equal(t, "mike", users[1].User)
	require.Equal(t, "zoe", users[2].User)
}
