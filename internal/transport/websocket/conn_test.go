package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/relay/internal/session"
)

// connPair upgrades one connection on a test server and returns the server
// side wrapped in a Conn together with the raw client side.
func connPair(t *testing.T) (*Conn, *gws.Conn) {
	t.Helper()
	serverSide := make(chan *Conn, 1)
	upgrader := gws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverSide <- NewConn(ws, 4096, time.Second)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case c := <-serverSide:
		t.Cleanup(func() { c.Close() })
		return c, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side not upgraded in time")
		return nil, nil
	}
}

func nextFrame(t *testing.T, c *Conn) session.Frame {
	t.Helper()
	select {
	case f, ok := <-c.Frames():
		require.True(t, ok, "frames channel closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return session.Frame{}
	}
}

func TestConnTextFrame(t *testing.T) {
	c, client := connPair(t)

	require.NoError(t, client.WriteMessage(gws.TextMessage, []byte("hello")))

	f := nextFrame(t, c)
	assert.Equal(t, session.FrameText, f.Kind)
	assert.Equal(t, "hello", f.Text)
}

func TestConnBinaryFrame(t *testing.T) {
	c, client := connPair(t)

	require.NoError(t, client.WriteMessage(gws.BinaryMessage, []byte{0x01, 0x02}))

	f := nextFrame(t, c)
	assert.Equal(t, session.FrameBinary, f.Kind)
	assert.Empty(t, f.Text)
}

func TestConnWriteText(t *testing.T) {
	c, client := connPair(t)

	require.NoError(t, c.WriteText("Joined"))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, gws.TextMessage, mt)
	assert.Equal(t, "Joined", string(data))
}

func TestConnAnswersPingWithPong(t *testing.T) {
	c, client := connPair(t)

	pongs := make(chan string, 1)
	client.SetPongHandler(func(data string) error {
		pongs <- data
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, client.WriteControl(gws.PingMessage, []byte("probe"), time.Now().Add(time.Second)))

	f := nextFrame(t, c)
	assert.Equal(t, session.FramePing, f.Kind)

	select {
	case data := <-pongs:
		assert.Equal(t, "probe", data)
	case <-time.After(2 * time.Second):
		t.Fatal("pong not received")
	}
}

func TestConnPingProducesPongFrame(t *testing.T) {
	c, client := connPair(t)

	// The client's default ping handler replies while it is reading.
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, c.Ping())

	f := nextFrame(t, c)
	assert.Equal(t, session.FramePong, f.Kind)
}

func TestConnPeerCloseFrame(t *testing.T) {
	c, client := connPair(t)

	msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "bye")
	require.NoError(t, client.WriteControl(gws.CloseMessage, msg, time.Now().Add(time.Second)))

	f := nextFrame(t, c)
	assert.Equal(t, session.FrameClose, f.Kind)

	select {
	case _, ok := <-c.Frames():
		assert.False(t, ok, "frames channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed")
	}
}

func TestConnAbruptDisconnectIsError(t *testing.T) {
	c, client := connPair(t)

	require.NoError(t, client.UnderlyingConn().Close())

	f := nextFrame(t, c)
	assert.Equal(t, session.FrameError, f.Kind)
	assert.Error(t, f.Err)
}

func TestConnReadLimitExceeded(t *testing.T) {
	c, client := connPair(t)

	big := strings.Repeat("x", 8192)
	require.NoError(t, client.WriteMessage(gws.TextMessage, []byte(big)))

	f := nextFrame(t, c)
	assert.NotEqual(t, session.FrameText, f.Kind)
}

func TestConnCloseIsIdempotent(t *testing.T) {
	c, client := connPair(t)

	require.NoError(t, c.Close())
	assert.NotPanics(t, func() { _ = c.Close() })

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	assert.True(t, gws.IsCloseError(err, gws.CloseNormalClosure), "got %v", err)
}

func TestConnRemoteAddr(t *testing.T) {
	c, _ := connPair(t)
	assert.Contains(t, c.RemoteAddr(), "127.0.0.1")
}
