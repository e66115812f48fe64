package main

import "sync"

// SpaceLookup is the catalog capability the registry consumes: resolve a
// space identifier to its geometry snapshot.
type SpaceLookup interface {
	GetSpace(spaceID string) (*Space, error)
}

// PresentUser is the occupant view shared in join acknowledgments.
type PresentUser struct {
	UserID string `json:"userId"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

// Room holds one space's live members. Membership and positions are guarded
// by the room's own mutex so rooms stay independent under load; events are
// fanned out while the lock is held, giving observers one total order per
// room.
type Room struct {
	space *Space

	mu      sync.Mutex
	members map[string]*Session
	order   []string // userIDs in admission order
}

func newRoom(space *Space) *Room {
	return &Room{
		space:   space,
		members: make(map[string]*Session),
	}
}

// spawnLocked picks the spawn cell for a new member: the first cell in a
// row-major scan from the origin that is neither static nor currently
// occupied. Deterministic given the same geometry and membership.
func (rm *Room) spawnLocked() (Position, bool) {
	occupied := make(map[Position]struct{}, len(rm.members))
	for _, s := range rm.members {
		occupied[s.Pos] = struct{}{}
	}

	for y := 0; y < rm.space.Height; y++ {
		for x := 0; x < rm.space.Width; x++ {
			p := Position{X: x, Y: y}
			if rm.space.isStatic(p) {
				continue
			}
			if _, taken := occupied[p]; taken {
				continue
			}
			return p, true
		}
	}
	return Position{}, false
}

func (rm *Room) othersLocked(excluding string) []PresentUser {
	users := make([]PresentUser, 0, len(rm.members))
	for _, id := range rm.order {
		if id == excluding {
			continue
		}
		s := rm.members[id]
		users = append(users, PresentUser{UserID: s.UserID, X: s.Pos.X, Y: s.Pos.Y})
	}
	return users
}

func (rm *Room) broadcastLocked(msg any, excluding string) {
	for _, id := range rm.order {
		if id == excluding {
			continue
		}
		if s := rm.members[id]; s.conn != nil {
			s.conn.enqueue(msg)
		}
	}
}

// Registry is the single source of truth for who is in which space. It owns
// room lifecycle (create on first join, discard when empty) and guarantees a
// user identifier is live in at most one room.
type Registry struct {
	catalog SpaceLookup

	mu    sync.RWMutex
	rooms map[string]*Room
	users map[string]string // userID -> spaceID
}

func newRegistry(catalog SpaceLookup) *Registry {
	return &Registry{
		catalog: catalog,
		rooms:   make(map[string]*Room),
		users:   make(map[string]string),
	}
}

// Admit inserts a new session for userID into spaceID. Geometry is fetched
// from the catalog only when the room does not exist yet; a live room keeps
// serving its snapshot even if the catalog record has since been deleted.
// All-or-nothing: on any failure no registry state is left behind. Returns
// the new session and the occupant snapshot taken just before insertion.
//
// When greet is non-nil it runs after insertion while the room lock is still
// held: the returned ack is enqueued to the joiner and the returned announce
// fanned out to the rest of the room under that same lock acquisition. A
// concurrent movement therefore lands either entirely before the snapshot or
// entirely after the ack, never between them.
func (r *Registry) Admit(spaceID, userID string, conn *client, greet func(sess *Session, others []PresentUser) (ack, announce any)) (*Session, []PresentUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.users[userID]; live {
		return nil, nil, ErrDuplicateSession
	}

	room, ok := r.rooms[spaceID]
	if !ok {
		space, err := r.catalog.GetSpace(spaceID)
		if err != nil {
			return nil, nil, err
		}
		room = newRoom(space)
	}

	room.mu.Lock()
	spawn, free := room.spawnLocked()
	if !free {
		room.mu.Unlock()
		return nil, nil, ErrSpaceFull
	}

	sess := &Session{
		UserID:  userID,
		SpaceID: spaceID,
		Pos:     spawn,
		space:   room.space,
		conn:    conn,
	}
	others := room.othersLocked(userID)
	room.members[userID] = sess
	room.order = append(room.order, userID)

	if greet != nil {
		ack, announce := greet(sess, others)
		if ack != nil && conn != nil {
			conn.enqueue(ack)
		}
		if announce != nil {
			room.broadcastLocked(announce, userID)
		}
	}
	room.mu.Unlock()

	r.rooms[spaceID] = room
	r.users[userID] = spaceID

	return sess, others, nil
}

// Locate returns a copy of the user's session state, or false if the user
// has no live session.
func (r *Registry) Locate(userID string) (Session, bool) {
	r.mu.RLock()
	spaceID, ok := r.users[userID]
	room := r.rooms[spaceID]
	r.mu.RUnlock()

	if !ok || room == nil {
		return Session{}, false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	sess, ok := room.members[userID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// UpdatePosition overwrites a session's position (legality already checked by
// the caller) and, when announce is non-nil, fans it out to the rest of the
// room under the same lock acquisition, so concurrent movements are observed
// in application order. Returns ErrSessionGone if the session lost a race
// with a disconnect.
func (r *Registry) UpdatePosition(userID string, pos Position, announce any) error {
	r.mu.RLock()
	spaceID, ok := r.users[userID]
	room := r.rooms[spaceID]
	r.mu.RUnlock()

	if !ok || room == nil {
		return ErrSessionGone
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	sess, ok := room.members[userID]
	if !ok {
		return ErrSessionGone
	}
	sess.Pos = pos
	if announce != nil {
		room.broadcastLocked(announce, userID)
	}
	return nil
}

// Remove drops the user's session, announcing the departure to the remaining
// members when announce is non-nil. Idempotent: removing an absent session is
// a no-op and emits nothing. When the last member leaves, the room is
// discarded; the next join reloads geometry from the catalog.
func (r *Registry) Remove(userID string, announce any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	spaceID, ok := r.users[userID]
	if !ok {
		return false
	}
	delete(r.users, userID)

	room := r.rooms[spaceID]
	if room == nil {
		return false
	}

	room.mu.Lock()
	delete(room.members, userID)
	for i, id := range room.order {
		if id == userID {
			room.order = append(room.order[:i], room.order[i+1:]...)
			break
		}
	}
	empty := len(room.members) == 0
	if announce != nil && !empty {
		room.broadcastLocked(announce, userID)
	}
	room.mu.Unlock()

	if empty {
		delete(r.rooms, spaceID)
	}
	return true
}

// SnapshotOthers lists spaceID's members except the named user, in admission
// order.
func (r *Registry) SnapshotOthers(spaceID, excludingUserID string) []PresentUser {
	r.mu.RLock()
	room := r.rooms[spaceID]
	r.mu.RUnlock()

	if room == nil {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	return room.othersLocked(excludingUserID)
}

// Broadcast fans msg out to every member of spaceID except the named user.
func (r *Registry) Broadcast(spaceID, excludingUserID string, msg any) {
	r.mu.RLock()
	room := r.rooms[spaceID]
	r.mu.RUnlock()

	if room == nil {
		return
	}

	room.mu.Lock()
	room.broadcastLocked(msg, excludingUserID)
	room.mu.Unlock()
}
