// Package testutil provides helpers for integration tests against a running relay.
package testutil

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
)

// WSClient is a simple WebSocket test client for integration testing.
type WSClient struct {
	conn *gws.Conn
	t    *testing.T
}

// NewWSClient dials the given ws:// URL and returns a test client.
//
// Precondition: url must address a listening relay endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	dialer := gws.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Conn exposes the underlying connection for tests that need control frames.
func (c *WSClient) Conn() *gws.Conn {
	return c.conn
}

// Send writes one text message.
func (c *WSClient) Send(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(gws.TextMessage, []byte(text)); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Read returns the next text message or fails the test on timeout.
func (c *WSClient) Read(timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading message: %v", err)
	}
	return string(data)
}

// ReadUntil reads messages until one contains substr and returns it.
//
// Precondition: substr must be non-empty.
// Postcondition: Returns the first message containing substr, or fails on timeout.
func (c *WSClient) ReadUntil(substr string, timeout time.Duration) string {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []string
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("reading until %q: got %q, error: %v", substr, seen, err)
		}
		msg := string(data)
		if strings.Contains(msg, substr) {
			return msg
		}
		seen = append(seen, msg)
	}
}

// ExpectClosed waits for the server to close the connection.
func (c *WSClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		if isTimeout(err) {
			c.t.Fatalf("connection not closed within %s", timeout)
		}
		return
	}
}

// Close sends a normal closure frame and closes the connection.
func (c *WSClient) Close() {
	msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
	_ = c.conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
