package client

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

type NotificationKind string

const (
	NotifyJoined  NotificationKind = "joined"
	NotifyLeft    NotificationKind = "left"
	NotifyEditing NotificationKind = "editing"
)

// Notification is a transient message shown to the user. It is never
// persisted; it self-expires after its display duration.
type Notification struct {
	ID       string
	Kind     NotificationKind
	User     string
	Duration time.Duration
}

// Notifier owns the active notifications of one document session. Every
// received event produces its own notification; rapid repeats from the same
// user are not coalesced (the sender debounces, the receiver does not).
// All activity stops once the session context is cancelled, so events
// delivered after teardown are discarded.
type Notifier struct {
	ctx          context.Context
	joinLeaveTTL time.Duration
	editingTTL   time.Duration
	onShow       func(Notification)

	mu     sync.Mutex
	active []Notification
}

func NewNotifier(ctx context.Context, joinLeaveTTL, editingTTL time.Duration, onShow func(Notification)) *Notifier {
	if joinLeaveTTL <= 0 {
		joinLeaveTTL = 3 * time.Second
	}
	if editingTTL <= 0 {
		editingTTL = 5 * time.Second
	}
	return &Notifier{
		ctx:          ctx,
		joinLeaveTTL: joinLeaveTTL,
		editingTTL:   editingTTL,
		onShow:       onShow,
	}
}

// Push creates and displays one notification. Returns false if the owning
// session has already been torn down.
func (n *Notifier) Push(kind NotificationKind, user string) bool {
	if n.ctx.Err() != nil {
		return false
	}

	ttl := n.joinLeaveTTL
	if kind == NotifyEditing {
		ttl = n.editingTTL
	}
	notif := Notification{
		ID:       ksuid.New().String(),
		Kind:     kind,
		User:     user,
		Duration: ttl,
	}

	n.mu.Lock()
	n.active = append(n.active, notif)
	n.mu.Unlock()

	if n.onShow != nil {
		n.onShow(notif)
	}

	time.AfterFunc(ttl, func() { n.expire(notif.ID) })
	return true
}

// Active returns the currently displayed notifications in display order.
func (n *Notifier) Active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.active))
	copy(out, n.active)
	return out
}

func (n *Notifier) expire(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, notif := range n.active {
		if notif.ID == id {
			n.active = append(n.active[:i], n.active[i+1:]...)
			return
		}
	}
}
