// Package main is an interactive terminal client for the relay. Lines typed on
// stdin are sent as text frames; frames from the server are printed to stdout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/command"
	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/observability"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "relay server address")
	path := flag.String("path", "/ws", "WebSocket upgrade path")
	room := flag.String("room", "", "room code to join on connect; empty creates a room")
	name := flag.String("name", "", "display name to set on connect")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := observability.NewLogger(config.LoggingConfig{Level: *logLevel, Format: "console"})
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	u := url.URL{Scheme: "ws", Host: *addr, Path: *path}
	logger.Info("connecting", zap.String("url", u.String()))

	dialer := gws.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		logger.Fatal("dialing relay", zap.String("url", u.String()), zap.Error(err))
	}
	defer conn.Close()

	outgoing := make(chan string, 16)
	if *name != "" {
		outgoing <- command.Prefix + "name " + *name
	}
	if *room != "" {
		outgoing <- command.Prefix + "join " + *room
	} else {
		outgoing <- command.Prefix + "create"
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !gws.IsCloseError(err, gws.CloseNormalClosure) {
					logger.Warn("reading from relay", zap.Error(err))
				}
				return
			}
			fmt.Println(render(string(data)))
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			outgoing <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("reading stdin", zap.Error(err))
		}
	}()

	for {
		select {
		case <-done:
			return
		case text := <-outgoing:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(gws.TextMessage, []byte(text)); err != nil {
				logger.Warn("writing to relay", zap.Error(err))
				return
			}
		case <-ctx.Done():
			msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
			if err := conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
				logger.Debug("writing close", zap.Error(err))
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

// render turns a relay reply into a line for the terminal.
func render(msg string) string {
	if code, ok := strings.CutPrefix(msg, command.Redirect("")); ok {
		return "*** room " + code + " created; share the code to invite others"
	}
	return msg
}
