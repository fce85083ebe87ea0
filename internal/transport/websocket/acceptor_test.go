package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/relay/internal/broker"
	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/session"
	"github.com/cory-johannsen/relay/internal/testutil"
)

// echoHandler is a test SessionHandler that echoes text frames back to the client.
type echoHandler struct {
	sessionCount atomic.Int32
}

func (h *echoHandler) Serve(ctx context.Context, t session.Transport) error {
	h.sessionCount.Add(1)
	defer t.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-t.Frames():
			if !ok || f.Kind == session.FrameClose {
				return nil
			}
			if f.Kind == session.FrameText {
				_ = t.WriteText("echo: " + f.Text)
			}
		}
	}
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		Host:           "127.0.0.1",
		Port:           0, // random port
		Path:           "/ws",
		ReadLimit:      4096,
		WriteTimeout:   5 * time.Second,
		OutboundBuffer: 16,
	}
}

// startAcceptor runs acc in the background and waits until it is listening.
func startAcceptor(t *testing.T, acc *Acceptor) string {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- acc.ListenAndServe()
	}()

	deadline := time.After(2 * time.Second)
	for {
		if acc.IsRunning() && acc.Addr() != "" {
			break
		}
		select {
		case err := <-errCh:
			t.Fatalf("acceptor exited early: %v", err)
		case <-deadline:
			t.Fatal("acceptor did not start in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	t.Cleanup(func() {
		acc.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("ListenAndServe did not return after Stop")
		}
	})
	return acc.Addr()
}

func wsURL(addr, path string) string {
	return "ws://" + addr + path
}

func TestAcceptorStartAndStop(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &echoHandler{}
	acc := NewAcceptor(testWSConfig(), handler, logger)

	addr := startAcceptor(t, acc)
	require.NotEmpty(t, addr)

	client := testutil.NewWSClient(t, wsURL(addr, "/ws"))
	client.Send("hello")
	assert.Equal(t, "echo: hello", client.Read(2*time.Second))

	client.Close()
	assert.Eventually(t, func() bool { return handler.sessionCount.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestAcceptorStopEndsSessions(t *testing.T) {
	logger := zaptest.NewLogger(t)
	acc := NewAcceptor(testWSConfig(), &echoHandler{}, logger)
	addr := startAcceptor(t, acc)

	client := testutil.NewWSClient(t, wsURL(addr, "/ws"))
	client.Send("ping")
	client.Read(2 * time.Second)

	stopped := make(chan struct{})
	go func() {
		acc.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, acc.IsRunning())
	client.ExpectClosed(2 * time.Second)
}

func TestAcceptorStopIsIdempotent(t *testing.T) {
	logger := zaptest.NewLogger(t)
	acc := NewAcceptor(testWSConfig(), &echoHandler{}, logger)
	startAcceptor(t, acc)

	acc.Stop()
	assert.NotPanics(t, acc.Stop)
}

func TestAcceptorStopBeforeListen(t *testing.T) {
	logger := zaptest.NewLogger(t)
	acc := NewAcceptor(testWSConfig(), &echoHandler{}, logger)

	acc.Stop()
	assert.NoError(t, acc.ListenAndServe())
	assert.False(t, acc.IsRunning())
}

func TestAcceptorRefusesUpgradesAfterStop(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &echoHandler{}
	acc := NewAcceptor(testWSConfig(), handler, logger)
	acc.Stop()

	rec := httptest.NewRecorder()
	acc.handleUpgrade(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, handler.sessionCount.Load())
}

func TestAcceptorStopDuringConnects(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &echoHandler{}
	acc := NewAcceptor(testWSConfig(), handler, logger)
	addr := startAcceptor(t, acc)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dialer := gws.Dialer{HandshakeTimeout: time.Second}
			for j := 0; j < 10; j++ {
				conn, _, err := dialer.Dial(wsURL(addr, "/ws"), nil)
				if err != nil {
					return
				}
				conn.Close()
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	stopped := make(chan struct{})
	go func() {
		acc.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while clients were connecting")
	}
	wg.Wait()
}

func TestAcceptorInvalidAddress(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testWSConfig()
	cfg.Host = "256.256.256.256"
	acc := NewAcceptor(cfg, &echoHandler{}, logger)

	err := acc.ListenAndServe()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")
}

func TestAcceptorRejectsPlainHTTPOnUpgradePath(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &echoHandler{}
	acc := NewAcceptor(testWSConfig(), handler, logger)
	addr := startAcceptor(t, acc)

	resp, err := http.Get("http://" + addr + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, handler.sessionCount.Load())
}

func TestAcceptorServesStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>relay</h1>"), 0o644))

	logger := zaptest.NewLogger(t)
	cfg := testWSConfig()
	cfg.StaticDir = dir
	acc := NewAcceptor(cfg, &echoHandler{}, logger)
	addr := startAcceptor(t, acc)

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "relay")

	client := testutil.NewWSClient(t, wsURL(addr, "/ws"))
	client.Send("still upgrading")
	assert.Equal(t, "echo: still upgrading", client.Read(2*time.Second))
}

func TestAcceptorWithoutStaticDirReturnsNotFound(t *testing.T) {
	logger := zaptest.NewLogger(t)
	acc := NewAcceptor(testWSConfig(), &echoHandler{}, logger)
	addr := startAcceptor(t, acc)

	resp, err := http.Get("http://" + addr + "/index.html")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// relayStack wires a real broker and session handler behind an acceptor.
func relayStack(t *testing.T) string {
	t.Helper()
	logger := zaptest.NewLogger(t)

	brokerCfg := config.BrokerConfig{
		RoomCodeLength:    6,
		MaxIDAttempts:     8,
		MaxCodeAttempts:   64,
		QueueSize:         64,
		ReclaimEmptyRooms: true,
	}
	ids := broker.NewIDAllocator(brokerCfg.RoomCodeLength, brokerCfg.MaxIDAttempts, brokerCfg.MaxCodeAttempts, broker.NewCryptoSource())
	b := broker.New(brokerCfg, ids, logger)
	go func() { _ = b.Start() }()
	// Cleanups run last-in first-out, so sessions end before the broker stops.
	t.Cleanup(b.Stop)

	wsCfg := testWSConfig()
	sessCfg := config.SessionConfig{HeartbeatInterval: time.Second, ClientTimeout: 10 * time.Second}
	handler := session.NewHandler(b, sessCfg, wsCfg.OutboundBuffer, logger)

	acc := NewAcceptor(wsCfg, handler, logger)
	return startAcceptor(t, acc)
}

func TestRelayCreateAndChat(t *testing.T) {
	addr := relayStack(t)

	alice := testutil.NewWSClient(t, wsURL(addr, "/ws"))
	alice.Send("/create")
	redirect := alice.ReadUntil("/redirect", 2*time.Second)
	code := strings.TrimPrefix(redirect, "/redirect")
	require.Len(t, code, 6)
	assert.Equal(t, "Hello from here", alice.Read(2*time.Second))

	bob := testutil.NewWSClient(t, wsURL(addr, "/ws"))
	bob.Send("/join " + code)
	assert.Equal(t, "Joined", bob.Read(2*time.Second))
	assert.Equal(t, "Hello from here", bob.Read(2*time.Second))
	assert.Equal(t, "Someone connected", alice.Read(2*time.Second))

	bob.Send("/name bob")
	bob.Send("hi there")
	assert.Equal(t, "bob: hi there", alice.Read(2*time.Second))

	alice.Send("hello bob")
	assert.Equal(t, "hello bob", bob.Read(2*time.Second))

	bob.Close()
	assert.Equal(t, "Someone disconnected", alice.Read(2*time.Second))
}

func TestRelayJoinUnknownRoom(t *testing.T) {
	addr := relayStack(t)

	client := testutil.NewWSClient(t, wsURL(addr, "/ws"))
	client.Send("/join zzzzzz")
	assert.Equal(t, "No such room", client.Read(2*time.Second))

	client.Send("/bogus")
	assert.Contains(t, client.Read(2*time.Second), "!!! unknown command")
}
