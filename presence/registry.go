// Package presence tracks which user identities currently have a live
// connection and which connection handle they are reachable at.
package presence

import (
	"fmt"
	"sort"
	"sync"

	"realtime-chat/telemetry"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type (
	// Identity is the stable external id a client announces for itself.
	Identity string

	// Handle addresses one live connection. The registry only refers to it and
	// never closes or otherwise manages the connection.
	Handle string

	Entry struct {
		UserID   Identity `json:"userId"`
		SocketID Handle   `json:"socketId"`
	}

	// Notifier receives the full presence set after every mutation. It is
	// called with the registry lock held and must not call back into the
	// registry.
	Notifier interface {
		PresenceChanged(entries []Entry)
	}

	NotifierFunc func(entries []Entry)
)

func (f NotifierFunc) PresenceChanged(entries []Entry) { f(entries) }

// Policy decides what a second announce for an already present identity does.
type Policy int

const (
	// KeepFirst ignores the second announce: the identity stays bound to the
	// first handle until that handle disconnects.
	KeepFirst Policy = iota
	// LastConnectWins rebinds the identity to the newest handle.
	LastConnectWins
)

func (p Policy) String() string {
	switch p {
	case KeepFirst:
		return "keep-first"
	case LastConnectWins:
		return "last-wins"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy accepts the names produced by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "keep-first":
		return KeepFirst, nil
	case "last-wins":
		return LastConnectWins, nil
	}
	return KeepFirst, fmt.Errorf("unknown duplicate announce policy %q", s)
}

// Registry maps identities to handles. At most one entry exists per identity.
type Registry struct {
	mu       sync.Mutex
	policy   Policy
	notifier Notifier
	byUser   map[Identity]Handle
	byHandle map[Handle]map[Identity]struct{}
}

// NewRegistry returns an empty registry. notifier may be nil.
func NewRegistry(policy Policy, notifier Notifier) *Registry {
	return &Registry{
		policy:   policy,
		notifier: notifier,
		byUser:   make(map[Identity]Handle),
		byHandle: make(map[Handle]map[Identity]struct{}),
	}
}

func (r *Registry) Policy() Policy { return r.policy }

// Add binds id to h. It reports whether the registry changed; a duplicate
// announce under KeepFirst, or a repeat of the current binding, changes
// nothing and broadcasts nothing.
func (r *Registry) Add(id Identity, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"user_id": id, "socket_id": h})

	current, exists := r.byUser[id]
	switch {
	case exists && current == h:
		telemetry.RecordAnnounce("ignored")
		return false
	case exists && r.policy == KeepFirst:
		log.WithField("bound_socket_id", current).Debug("Duplicate announce ignored")
		telemetry.RecordAnnounce("ignored")
		return false
	case exists:
		r.unbind(id, current)
		log.WithField("previous_socket_id", current).Info("Identity rebound to new connection")
		telemetry.RecordAnnounce("rebound")
	default:
		log.Info("User announced")
		telemetry.RecordAnnounce("added")
	}

	r.byUser[id] = h
	ids, ok := r.byHandle[h]
	if !ok {
		ids = make(map[Identity]struct{})
		r.byHandle[h] = ids
	}
	ids[id] = struct{}{}

	r.changed()
	return true
}

// Remove drops every entry bound to h. Removing an unknown handle is a no-op.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, ok := r.byHandle[h]
	if !ok {
		return false
	}
	for id := range ids {
		delete(r.byUser, id)
	}
	delete(r.byHandle, h)

	logrus.WithFields(logrus.Fields{
		"socket_id":  h,
		"identities": len(ids),
	}).Info("Connection left presence")

	r.changed()
	return true
}

func (r *Registry) Lookup(id Identity) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byUser[id]
	return h, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byUser)
}

// Snapshot returns the current entries ordered by identity. Order carries no
// meaning; it only keeps output stable.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshot()
}

func (r *Registry) snapshot() []Entry {
	entries := lo.MapToSlice(r.byUser, func(id Identity, h Handle) Entry {
		return Entry{UserID: id, SocketID: h}
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

func (r *Registry) unbind(id Identity, h Handle) {
	ids := r.byHandle[h]
	delete(ids, id)
	if len(ids) == 0 {
		delete(r.byHandle, h)
	}
	delete(r.byUser, id)
}

// changed must run with mu held so broadcasts leave in mutation order.
func (r *Registry) changed() {
	telemetry.SetPresence(len(r.byUser))
	if r.notifier != nil {
		r.notifier.PresenceChanged(r.snapshot())
	}
}
