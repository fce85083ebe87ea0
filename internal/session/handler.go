// Package session runs the per-connection state machine of the relay: it
// registers the connection with the broker, parses the slash-command protocol,
// relays chat text and supervises liveness with a heartbeat.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/broker"
	"github.com/cory-johannsen/relay/internal/command"
	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/observability"
)

var (
	// ErrHeartbeatTimeout is returned when a client sent no liveness signal within the client timeout.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	// ErrProtocol is returned when the transport fails or delivers an unexpected frame.
	ErrProtocol = errors.New("transport protocol error")

	errPeerClosed = errors.New("peer closed connection")
)

// Broker is the subset of the coordinator a session needs.
type Broker interface {
	Connect(ctx context.Context, out broker.Outbound) (broker.SessionID, error)
	Disconnect(id broker.SessionID) error
	SendToRoom(sender broker.SessionID, code, text string) error
	Join(ctx context.Context, id broker.SessionID, code string) error
	CreateRoom(ctx context.Context, id broker.SessionID) (string, error)
	RoomExists(ctx context.Context, code string) (bool, error)
}

// Handler serves relay sessions. One Handler is shared by all connections;
// each call to Serve owns its connection's state.
type Handler struct {
	broker         Broker
	commands       *command.Registry
	cfg            config.SessionConfig
	outboundBuffer int
	logger         *zap.Logger
}

// NewHandler creates a Handler.
//
// Precondition: b and logger must be non-nil; cfg.ClientTimeout must exceed cfg.HeartbeatInterval.
// Postcondition: Returns a Handler ready to Serve connections.
func NewHandler(b Broker, cfg config.SessionConfig, outboundBuffer int, logger *zap.Logger) *Handler {
	return &Handler{
		broker:         b,
		commands:       command.DefaultRegistry(),
		cfg:            cfg,
		outboundBuffer: outboundBuffer,
		logger:         logger,
	}
}

// conn is the state of one connection. It is only touched by the goroutine running Serve.
type conn struct {
	h        *Handler
	t        Transport
	mailbox  *broker.Mailbox
	logger   *zap.Logger
	state    State
	id       broker.SessionID
	name     string
	named    bool
	room     string
	lastSeen time.Time
}

// Serve runs the session on t until the peer leaves, the heartbeat times out,
// the transport fails, or ctx is cancelled. The transport is closed on return.
//
// Postcondition: The session is no longer registered with the broker and t is closed.
// Returns nil on a clean close, or the error that ended the session.
func (h *Handler) Serve(ctx context.Context, t Transport) error {
	c := &conn{
		h:       h,
		t:       t,
		mailbox: broker.NewMailbox(h.outboundBuffer),
		logger:  h.logger.With(observability.SessionFields("", t.RemoteAddr())...),
		state:   StateConnecting,
	}

	id, err := h.broker.Connect(ctx, c.mailbox)
	if err != nil {
		c.mailbox.Close()
		_ = t.Close()
		c.setState(StateClosed)
		return fmt.Errorf("registering session: %w", err)
	}
	c.id = id
	c.logger = c.logger.With(observability.SessionFields(id.String(), "")...)
	c.lastSeen = time.Now()
	c.setState(StateActive)

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	err = c.run(ctx, ticker.C)

	c.setState(StateClosing)
	ticker.Stop()
	if derr := h.broker.Disconnect(id); derr != nil {
		c.logger.Debug("disconnect not delivered", zap.Error(derr))
	}
	c.mailbox.Close()
	_ = t.Close()
	c.setState(StateClosed)

	if errors.Is(err, errPeerClosed) {
		return nil
	}
	return err
}

func (c *conn) setState(s State) {
	c.logger.Debug("session state",
		zap.Stringer("from", c.state),
		zap.Stringer("to", s),
	)
	c.state = s
}

func (c *conn) run(ctx context.Context, heartbeat <-chan time.Time) error {
	frames := c.t.Frames()
	events := c.mailbox.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f, ok := <-frames:
			if !ok {
				return errPeerClosed
			}
			c.lastSeen = time.Now()
			if err := c.handleFrame(ctx, f); err != nil {
				return err
			}

		case text, ok := <-events:
			if !ok {
				return errPeerClosed
			}
			if err := c.write(text); err != nil {
				return err
			}

		case now := <-heartbeat:
			if now.Sub(c.lastSeen) > c.h.cfg.ClientTimeout {
				c.logger.Info("client heartbeat failed, disconnecting",
					zap.Duration("silent_for", now.Sub(c.lastSeen)),
				)
				return ErrHeartbeatTimeout
			}
			if err := c.t.Ping(); err != nil {
				return fmt.Errorf("%w: sending ping: %w", ErrProtocol, err)
			}
		}
	}
}

func (c *conn) handleFrame(ctx context.Context, f Frame) error {
	switch f.Kind {
	case FrameText:
		return c.handleText(ctx, f.Text)
	case FramePing, FramePong:
		return nil
	case FrameClose:
		return errPeerClosed
	case FrameBinary:
		c.logger.Warn("unexpected binary frame")
		return fmt.Errorf("%w: unexpected binary frame", ErrProtocol)
	case FrameError:
		if f.Err == nil {
			return fmt.Errorf("%w: transport failed", ErrProtocol)
		}
		return fmt.Errorf("%w: %w", ErrProtocol, f.Err)
	default:
		return fmt.Errorf("%w: unknown frame kind %d", ErrProtocol, f.Kind)
	}
}

func (c *conn) handleText(ctx context.Context, line string) error {
	parsed := command.Parse(line)
	if !parsed.IsCommand {
		return c.relay(parsed.Raw)
	}

	cmd, ok := c.h.commands.Resolve(parsed.Command)
	if !ok {
		return c.write(command.UnknownCommand(parsed.Raw))
	}
	if cmd.ArgRequired && !parsed.HasArg {
		return c.write(cmd.MissingArg)
	}

	switch cmd.Handler {
	case command.HandlerJoin:
		return c.join(ctx, parsed.Arg)
	case command.HandlerCreate:
		return c.create(ctx)
	case command.HandlerName:
		c.name = parsed.Arg
		c.named = true
		return nil
	case command.HandlerReady:
		c.logger.Debug("ready has no effect", observability.RoomField(c.room))
		return nil
	default:
		return c.write(command.UnknownCommand(parsed.Raw))
	}
}

func (c *conn) join(ctx context.Context, code string) error {
	exists, err := c.h.broker.RoomExists(ctx, code)
	if err != nil {
		return fmt.Errorf("checking room %q: %w", code, err)
	}
	if !exists {
		c.room = ""
		return c.write(command.ReplyNoSuchRoom)
	}

	c.room = code
	if err := c.h.broker.Join(ctx, c.id, code); err != nil {
		return fmt.Errorf("joining room %q: %w", code, err)
	}
	c.logger.Info("joined room", observability.RoomField(code))
	return c.write(command.ReplyJoined)
}

func (c *conn) create(ctx context.Context) error {
	code, err := c.h.broker.CreateRoom(ctx, c.id)
	if errors.Is(err, broker.ErrRoomCodeSpaceExhausted) {
		c.logger.Warn("no room code available", zap.Error(err))
		return c.write(command.ReplyNoCodeAvailable)
	}
	if err != nil {
		return fmt.Errorf("creating room: %w", err)
	}

	c.room = code
	c.logger.Info("created room", observability.RoomField(code))
	return c.write(command.Redirect(code))
}

func (c *conn) relay(text string) error {
	if text == "" {
		return nil
	}
	if c.named {
		text = c.name + ": " + text
	}
	if err := c.h.broker.SendToRoom(c.id, c.room, text); err != nil {
		return fmt.Errorf("relaying message: %w", err)
	}
	return nil
}

func (c *conn) write(text string) error {
	if err := c.t.WriteText(text); err != nil {
		return fmt.Errorf("%w: writing text: %w", ErrProtocol, err)
	}
	return nil
}
