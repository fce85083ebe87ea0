// Package websocket adapts gorilla/websocket connections to the session
// transport and accepts them over HTTP.
package websocket

import (
	"errors"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/cory-johannsen/relay/internal/session"
)

const frameBuffer = 16

// Conn is a session.Transport over a WebSocket connection. A read pump
// goroutine turns inbound messages and control frames into session.Frames.
type Conn struct {
	ws           *gws.Conn
	writeTimeout time.Duration
	frames       chan session.Frame
	done         chan struct{}
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

// NewConn wraps ws and starts its read pump.
//
// Precondition: ws must be an open connection not read by anyone else.
// Postcondition: Returns a Conn whose Frames channel is closed when the read pump exits.
func NewConn(ws *gws.Conn, readLimit int64, writeTimeout time.Duration) *Conn {
	c := &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		frames:       make(chan session.Frame, frameBuffer),
		done:         make(chan struct{}),
	}

	ws.SetReadLimit(readLimit)
	ws.SetPingHandler(func(data string) error {
		c.emit(session.Frame{Kind: session.FramePing})
		err := ws.WriteControl(gws.PongMessage, []byte(data), c.deadline())
		if errors.Is(err, gws.ErrCloseSent) {
			return nil
		}
		return err
	})
	ws.SetPongHandler(func(string) error {
		c.emit(session.Frame{Kind: session.FramePong})
		return nil
	})

	go c.readPump()
	return c
}

func (c *Conn) deadline() time.Time {
	if c.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeTimeout)
}

// emit hands f to the session unless the connection has been closed.
func (c *Conn) emit(f session.Frame) bool {
	select {
	case c.frames <- f:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) readPump() {
	defer close(c.frames)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			// gorilla reports a dropped TCP connection as an abnormal closure.
			var closeErr *gws.CloseError
			if errors.As(err, &closeErr) && closeErr.Code != gws.CloseAbnormalClosure {
				c.emit(session.Frame{Kind: session.FrameClose})
			} else {
				c.emit(session.Frame{Kind: session.FrameError, Err: err})
			}
			return
		}

		var ok bool
		switch mt {
		case gws.TextMessage:
			ok = c.emit(session.Frame{Kind: session.FrameText, Text: string(data)})
		case gws.BinaryMessage:
			ok = c.emit(session.Frame{Kind: session.FrameBinary})
		default:
			ok = true
		}
		if !ok {
			return
		}
	}
}

// Frames returns the inbound frame channel.
func (c *Conn) Frames() <-chan session.Frame {
	return c.frames
}

// WriteText sends one text message.
func (c *Conn) WriteText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(c.deadline())
	return c.ws.WriteMessage(gws.TextMessage, []byte(text))
}

// Ping sends a ping control frame.
func (c *Conn) Ping() error {
	return c.ws.WriteControl(gws.PingMessage, nil, c.deadline())
}

// Close sends a normal closure frame and closes the underlying connection.
// Calling Close more than once is a no-op.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
		_ = c.ws.WriteControl(gws.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
