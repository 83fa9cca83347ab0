package client

import (
	"sort"
	"sync"

	"mdlive/internal/models"
)

// Roster is the live set of collaborators in one room. It is rebuilt
// wholesale from each update users broadcast; join and leave events never
// mutate it directly, they only drive notifications. Replacing with a
// payload identical to the current contents is observably a no-op.
type Roster struct {
	mu       sync.RWMutex
	entries  map[string]models.PresenceEntry
	onChange func([]models.PresenceEntry)
}

// NewRoster builds an empty roster. onChange, if set, is invoked with the
// ordered roster after every replacement that changed the contents.
func NewRoster(onChange func([]models.PresenceEntry)) *Roster {
	return &Roster{
		entries:  make(map[string]models.PresenceEntry),
		onChange: onChange,
	}
}

// Replace discards the roster and rebuilds it from the broadcast payload.
// A nil payload, the shape a malformed broadcast decodes to, yields an
// empty roster rather than an error so the viewer stays usable.
func (r *Roster) Replace(payload models.RosterPayload) {
	next := make(map[string]models.PresenceEntry, len(payload))
	for user, entry := range payload {
		if entry.User == "" {
			entry.User = user
		}
		next[user] = entry
	}

	r.mu.Lock()
	if rostersEqual(r.entries, next) {
		r.mu.Unlock()
		return
	}
	r.entries = next
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(r.Users())
	}
}

// Users returns the roster ordered by user identity. The broadcast payload
// is a JSON object and carries no order of its own, so a stable sort keeps
// rendering deterministic.
func (r *Roster) Users() []models.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]models.PresenceEntry, 0, len(r.entries))
	for _, e := range r.entries {
		users = append(users, e)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].User < users[j].User })
	return users
}

// Len reports the number of present users.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func rostersEqual(a, b map[string]models.PresenceEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || v != w {
			return false
		}
	}
	return true
}
