package broker

import (
	"fmt"
	"sort"
)

// DefaultMemberName is the display name of a member that has not set one.
const DefaultMemberName = "Anon"

// StatusKind is the phase of a room's game.
type StatusKind int

const (
	// StatusWaiting is the phase of a room that has not started a game.
	StatusWaiting StatusKind = iota
	// StatusStarting is the phase between all players being ready and the first turn.
	StatusStarting
	// StatusInProgress is the phase of a running game.
	StatusInProgress
)

// Status is a room's game phase. Counter is only meaningful, and non-zero, while InProgress.
type Status struct {
	Kind    StatusKind
	Counter uint64
}

// String renders the status for logs.
func (s Status) String() string {
	switch s.Kind {
	case StatusWaiting:
		return "waiting"
	case StatusStarting:
		return "starting"
	case StatusInProgress:
		return fmt.Sprintf("in_progress(%d)", s.Counter)
	default:
		return fmt.Sprintf("unknown(%d)", int(s.Kind))
	}
}

// Member is a session's metadata within a room.
type Member struct {
	// Name is the member's display name.
	Name string
}

// Room is a named group of sessions that share a broadcast scope.
type Room struct {
	// Code is the room's identity.
	Code string
	// Members maps member identity to metadata.
	Members map[SessionID]*Member
	// Turn is the member whose turn it is; empty when no game is running.
	Turn SessionID
	// Status is the room's game phase.
	Status Status
}

func newRoom(code string) *Room {
	return &Room{
		Code:    code,
		Members: make(map[SessionID]*Member),
	}
}

// removeMember reports whether id was a member.
//
// Postcondition: if the room is InProgress, Turn references a current member or the
// room has fallen back to Waiting with no turn holder.
func (r *Room) removeMember(id SessionID) bool {
	if _, ok := r.Members[id]; !ok {
		return false
	}
	delete(r.Members, id)
	if r.Status.Kind == StatusInProgress && r.Turn == id {
		r.Status = Status{Kind: StatusWaiting}
		r.Turn = ""
	}
	return true
}

// RoomInfo is a read-only snapshot of a room.
type RoomInfo struct {
	Code    string
	Members []SessionID
	Status  Status
}

func (r *Room) info() RoomInfo {
	members := make([]SessionID, 0, len(r.Members))
	for id := range r.Members {
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return RoomInfo{Code: r.Code, Members: members, Status: r.Status}
}

// directory maps room codes to rooms.
// It is owned by the Broker goroutine and is not safe for concurrent use.
type directory struct {
	rooms map[string]*Room
}

func newDirectory() *directory {
	return &directory{rooms: make(map[string]*Room)}
}

func (d *directory) lookup(code string) (*Room, bool) {
	r, ok := d.rooms[code]
	return r, ok
}

func (d *directory) exists(code string) bool {
	_, ok := d.rooms[code]
	return ok
}

// getOrCreate returns the room for code, creating it if absent.
func (d *directory) getOrCreate(code string) (room *Room, created bool) {
	if r, ok := d.rooms[code]; ok {
		return r, false
	}
	r := newRoom(code)
	d.rooms[code] = r
	return r, true
}

func (d *directory) codes() map[string]struct{} {
	out := make(map[string]struct{}, len(d.rooms))
	for code := range d.rooms {
		out[code] = struct{}{}
	}
	return out
}

// removeMember removes id from every room and returns the codes of rooms it left.
func (d *directory) removeMember(id SessionID) []string {
	var left []string
	for code, r := range d.rooms {
		if r.removeMember(id) {
			left = append(left, code)
		}
	}
	sort.Strings(left)
	return left
}

// reclaim deletes the room for code if it has no members, reporting whether it did.
func (d *directory) reclaim(code string) bool {
	r, ok := d.rooms[code]
	if !ok || len(r.Members) > 0 {
		return false
	}
	delete(d.rooms, code)
	return true
}

func (d *directory) len() int {
	return len(d.rooms)
}
