// Package broker owns the session registry and room directory of the relay.
//
// All state lives on a single coordinator goroutine. Session handlers reach it
// only through the Broker's methods, which enqueue operations that run in
// arrival order. Request/response methods wait for the result; Disconnect and
// SendToRoom only enqueue.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
)

// Notices pushed by the Broker to room members.
const (
	NoticeArrival   = "Someone connected"
	NoticeDeparture = "Someone disconnected"
	NoticeJoined    = "Hello from here"
)

var (
	// ErrCoordinatorUnavailable is returned when the Broker is stopped or the caller gave up waiting.
	ErrCoordinatorUnavailable = errors.New("broker unavailable")
	// ErrUnknownSession is returned by Join for an identity that is not registered.
	ErrUnknownSession = errors.New("unknown session")
)

// Stats is a point-in-time count of Broker state.
type Stats struct {
	Sessions int
	Rooms    int
	Members  int
}

// Broker is the single-writer coordinator of sessions and rooms.
type Broker struct {
	ids     *IDAllocator
	logger  *zap.Logger
	reclaim bool

	ops      chan func()
	quit     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	// Owned by the run loop.
	sessions *registry
	rooms    *directory
}

// New creates a Broker. It processes nothing until Start is called.
//
// Precondition: ids and logger must be non-nil; cfg must be valid.
func New(cfg config.BrokerConfig, ids *IDAllocator, logger *zap.Logger) *Broker {
	return &Broker{
		ids:      ids,
		logger:   logger,
		reclaim:  cfg.ReclaimEmptyRooms,
		ops:      make(chan func(), cfg.QueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		sessions: newRegistry(),
		rooms:    newDirectory(),
	}
}

// Start runs the coordinator loop. It blocks until Stop is called.
//
// Precondition: Start is called at most once.
func (b *Broker) Start() error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("broker already started")
	}
	defer close(b.done)

	for {
		select {
		case <-b.quit:
			return nil
		case op := <-b.ops:
			op()
		}
	}
}

// Stop ends the coordinator loop and waits for it to exit. Operations still
// queued are discarded. Calling Stop more than once is a no-op.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.quit)
	})
	if b.started.Load() {
		<-b.done
	}
}

func (b *Broker) submit(ctx context.Context, op func()) error {
	select {
	case <-b.quit:
		return ErrCoordinatorUnavailable
	default:
	}
	select {
	case b.ops <- op:
		return nil
	case <-b.quit:
		return ErrCoordinatorUnavailable
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCoordinatorUnavailable, ctx.Err())
	}
}

// call runs fn on the coordinator and waits for its result. When the caller
// gives up after fn was queued and undo is non-nil, undo runs on the
// coordinator with fn's result so the abandoned request leaves no effect.
func call[T any](ctx context.Context, b *Broker, fn func() T, undo func(T)) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if err := b.submit(ctx, func() { reply <- fn() }); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-b.quit:
		return zero, ErrCoordinatorUnavailable
	case <-ctx.Done():
		if undo != nil {
			// Queued behind fn, so the reply is buffered by the time this runs.
			_ = b.submit(context.Background(), func() { undo(<-reply) })
		}
		return zero, fmt.Errorf("%w: %w", ErrCoordinatorUnavailable, ctx.Err())
	}
}

type connectResult struct {
	id  SessionID
	err error
}

// Connect registers out and returns the session's new identity. A Connect
// abandoned by its caller registers nothing.
//
// Postcondition: The identity is unique among registered sessions, or an error is returned.
func (b *Broker) Connect(ctx context.Context, out Outbound) (SessionID, error) {
	register := func() connectResult {
		if err := ctx.Err(); err != nil {
			return connectResult{err: err}
		}
		id, err := b.ids.NextSession(b.sessions.has)
		if err != nil {
			return connectResult{err: err}
		}
		b.sessions.add(id, out)
		b.logger.Info("session connected",
			zap.String("session_id", id.String()),
			zap.Int("sessions", b.sessions.len()),
		)
		return connectResult{id: id}
	}
	unregister := func(res connectResult) {
		if res.err == nil && b.sessions.remove(res.id) {
			b.logger.Debug("abandoned connect discarded", zap.String("session_id", res.id.String()))
		}
	}

	res, err := call(ctx, b, register, unregister)
	if err != nil {
		return "", err
	}
	return res.id, res.err
}

// Disconnect removes the session from the registry and from every room it
// belongs to, notifying the remaining members. Unknown identities are ignored.
func (b *Broker) Disconnect(id SessionID) error {
	return b.submit(context.Background(), func() {
		if !b.sessions.remove(id) {
			return
		}
		left := b.leaveRooms(id)
		b.logger.Info("session disconnected",
			zap.String("session_id", id.String()),
			zap.Strings("rooms_left", left),
			zap.Int("sessions", b.sessions.len()),
		)
	})
}

// SendToRoom relays text to every member of the room except sender. An empty or
// unknown code is a no-op. Delivery failures are not reported.
func (b *Broker) SendToRoom(sender SessionID, code, text string) error {
	if code == "" {
		return nil
	}
	return b.submit(context.Background(), func() {
		room, ok := b.rooms.lookup(code)
		if !ok {
			return
		}
		b.broadcast(room, text, sender)
	})
}

// Join moves the session into the room for code, creating the room if needed.
// The session first leaves any room it is in.
//
// Postcondition: On success the session is a member of exactly one room: code.
func (b *Broker) Join(ctx context.Context, id SessionID, code string) error {
	res, err := call(ctx, b, func() error {
		return b.join(id, code)
	}, nil)
	if err != nil {
		return err
	}
	return res
}

type createResult struct {
	code string
	err  error
}

// CreateRoom picks a code no existing room uses and joins the session to the
// new room in the same coordinator step, so concurrent creators never share a code.
//
// Postcondition: On success the session is the sole member of a new room, whose code is returned.
func (b *Broker) CreateRoom(ctx context.Context, id SessionID) (string, error) {
	res, err := call(ctx, b, func() createResult {
		if _, ok := b.sessions.get(id); !ok {
			return createResult{err: fmt.Errorf("creating room: %w %s", ErrUnknownSession, id)}
		}
		code, err := b.ids.UniqueRoomCode(b.rooms.codes())
		if err != nil {
			return createResult{err: err}
		}
		return createResult{code: code, err: b.join(id, code)}
	}, nil)
	if err != nil {
		return "", err
	}
	return res.code, res.err
}

// RoomExists reports whether a room with the given code exists.
func (b *Broker) RoomExists(ctx context.Context, code string) (bool, error) {
	return call(ctx, b, func() bool {
		return b.rooms.exists(code)
	}, nil)
}

// ListRoomIDs returns the codes of all existing rooms.
func (b *Broker) ListRoomIDs(ctx context.Context) (map[string]struct{}, error) {
	return call(ctx, b, func() map[string]struct{} {
		return b.rooms.codes()
	}, nil)
}

type roomResult struct {
	info RoomInfo
	ok   bool
}

// Room returns a snapshot of the room for code.
func (b *Broker) Room(ctx context.Context, code string) (RoomInfo, bool, error) {
	res, err := call(ctx, b, func() roomResult {
		room, ok := b.rooms.lookup(code)
		if !ok {
			return roomResult{}
		}
		return roomResult{info: room.info(), ok: true}
	}, nil)
	return res.info, res.ok, err
}

// Stats returns current session and room counts.
func (b *Broker) Stats(ctx context.Context) (Stats, error) {
	return call(ctx, b, func() Stats {
		s := Stats{Sessions: b.sessions.len(), Rooms: b.rooms.len()}
		for _, r := range b.rooms.rooms {
			s.Members += len(r.Members)
		}
		return s
	}, nil)
}

// LogStats logs Stats every interval until ctx is done.
//
// Precondition: interval must be > 0.
func (b *Broker) LogStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.quit:
			return
		case <-ticker.C:
			s, err := b.Stats(ctx)
			if err != nil {
				continue
			}
			b.logger.Info("relay stats",
				zap.Int("sessions", s.Sessions),
				zap.Int("rooms", s.Rooms),
				zap.Int("members", s.Members),
			)
		}
	}
}

// join runs on the coordinator.
func (b *Broker) join(id SessionID, code string) error {
	out, ok := b.sessions.get(id)
	if !ok {
		return fmt.Errorf("joining %q: %w %s", code, ErrUnknownSession, id)
	}
	b.leaveRooms(id)

	room, created := b.rooms.getOrCreate(code)
	if created {
		b.logger.Info("room created", zap.String("room", code))
	}
	room.Members[id] = &Member{Name: DefaultMemberName}
	b.broadcast(room, NoticeArrival, id)
	b.deliver(id, out, NoticeJoined)

	b.logger.Debug("session joined room",
		zap.String("session_id", id.String()),
		zap.String("room", code),
		zap.Int("members", len(room.Members)),
	)
	return nil
}

// leaveRooms removes id from every room, notifies the remaining members and
// reclaims rooms left empty when configured to.
func (b *Broker) leaveRooms(id SessionID) []string {
	left := b.rooms.removeMember(id)
	for _, code := range left {
		room, _ := b.rooms.lookup(code)
		b.broadcast(room, NoticeDeparture, id)
		if b.reclaim && b.rooms.reclaim(code) {
			b.logger.Info("room reclaimed", zap.String("room", code))
		}
	}
	return left
}

func (b *Broker) broadcast(room *Room, text string, skip SessionID) {
	for id := range room.Members {
		if id == skip {
			continue
		}
		if out, ok := b.sessions.get(id); ok {
			b.deliver(id, out, text)
		}
	}
}

func (b *Broker) deliver(id SessionID, out Outbound, text string) {
	if err := out.Push(text); err != nil {
		b.logger.Debug("dropping message",
			zap.String("session_id", id.String()),
			zap.Error(err),
		)
	}
}
