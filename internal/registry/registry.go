// Package registry tracks which logical users are currently reachable and
// through which live connection.
//
// A Registry is not safe for concurrent use. Its owner (the hub) serializes
// every read and mutation, which also keeps the forward map and the reverse
// index consistent with each other.
package registry

import (
	"slices"

	"github.com/samber/lo"
)

// UserID is the opaque, client-chosen identifier a connection registers as.
type UserID = string

// Handle identifies a live transport connection.
type Handle = string

type entry struct {
	handle Handle
	seq    uint64
}

type Registry struct {
	byUser   map[UserID]entry
	byHandle map[Handle]map[UserID]struct{}
	nextSeq  uint64
}

func New() *Registry {
	return &Registry{
		byUser:   make(map[UserID]entry),
		byHandle: make(map[Handle]map[UserID]struct{}),
	}
}

// Register binds userID to handle, replacing any previous binding.
//
// When userID was bound to a different handle, that handle's reverse entry is
// updated so a later Remove of the stale handle leaves the new binding intact.
// The previous handle is returned with replaced=true in that case.
func (r *Registry) Register(userID UserID, handle Handle) (previous Handle, replaced bool) {
	old, exists := r.byUser[userID]
	seq := old.seq
	if !exists {
		r.nextSeq++
		seq = r.nextSeq
	}
	if exists && old.handle != handle {
		r.detach(old.handle, userID)
		previous, replaced = old.handle, true
	}

	r.byUser[userID] = entry{handle: handle, seq: seq}
	ids := r.byHandle[handle]
	if ids == nil {
		ids = make(map[UserID]struct{}, 1)
		r.byHandle[handle] = ids
	}
	ids[userID] = struct{}{}
	return previous, replaced
}

// Lookup returns the handle userID is bound to. ok is false when the user is
// not currently reachable.
func (r *Registry) Lookup(userID UserID) (handle Handle, ok bool) {
	e, ok := r.byUser[userID]
	if !ok {
		return "", false
	}
	return e.handle, true
}

// Remove drops every user id bound to handle and returns them in registration
// order. Unknown handles are a no-op.
func (r *Registry) Remove(handle Handle) []UserID {
	ids, ok := r.byHandle[handle]
	if !ok {
		return nil
	}
	delete(r.byHandle, handle)

	removed := make([]UserID, 0, len(ids))
	for id := range ids {
		if e, ok := r.byUser[id]; ok && e.handle == handle {
			removed = append(removed, id)
		}
	}
	r.sortBySeq(removed)
	for _, id := range removed {
		delete(r.byUser, id)
	}
	return removed
}

// UserIDs returns the ids currently bound to handle.
func (r *Registry) UserIDs(handle Handle) []UserID {
	ids := lo.Keys(r.byHandle[handle])
	r.sortBySeq(ids)
	return ids
}

// Snapshot returns all registered user ids in first-registration order.
func (r *Registry) Snapshot() []UserID {
	ids := lo.Keys(r.byUser)
	r.sortBySeq(ids)
	return ids
}

func (r *Registry) Len() int {
	return len(r.byUser)
}

func (r *Registry) detach(handle Handle, userID UserID) {
	ids := r.byHandle[handle]
	if ids == nil {
		return
	}
	delete(ids, userID)
	if len(ids) == 0 {
		delete(r.byHandle, handle)
	}
}

func (r *Registry) sortBySeq(ids []UserID) {
	slices.SortFunc(ids, func(a, b UserID) int {
		sa, sb := r.byUser[a].seq, r.byUser[b].seq
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	})
}
