// streamtest connects to the chat WebSocket and prints every frame it receives.
// Usage: go run ./cmd/streamtest --config configs/chatclient.yaml --token $CHAT_TOKEN
//
// Unlike chatclient it does not reconnect, fetch history or send anything:
// it shows exactly what the server puts on the wire.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/forum-chat/internal/auth"
	"github.com/rickgao/forum-chat/internal/config"
	"github.com/rickgao/forum-chat/internal/connection"
	"github.com/rickgao/forum-chat/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/chatclient.yaml", "path to config file")
	token := flag.String("token", "", "bearer token (overrides api.token)")
	verbose := flag.Bool("verbose", false, "print raw frame JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *token != "" {
		cfg.API.Token = *token
	}

	cred, err := auth.LoadCredential(cfg.API.Token, cfg.API.TokenPath)
	if err != nil {
		logger.Error("failed to load credential", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	target, err := cred.HandshakeURL(cfg.API.WSURL)
	if err != nil {
		logger.Error("invalid websocket url", "error", err)
		os.Exit(1)
	}

	dialer := connection.NewDialer(connection.ClientConfig{
		PingInterval:     cfg.Connection.PingInterval,
		PingTimeout:      cfg.Connection.ReadTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
	}, logger)

	conn, err := dialer.Dial(ctx, target, nil)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	logger.Info("connected, streaming frames", "user", cred.String())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var valid, malformed int
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case ctx.Err() != nil:
			case errors.As(err, &ce):
				logger.Warn("server closed connection", "code", ce.Code, "reason", ce.Text)
			default:
				logger.Error("read failed", "error", err)
			}
			break
		}

		if *verbose {
			fmt.Printf("[RAW] %s\n", data)
		}

		msg, err := model.DecodeFrame(data, time.Now())
		if err != nil {
			malformed++
			fmt.Printf("[MALFORMED] %v\n", err)
			continue
		}
		valid++
		fmt.Printf("[MESSAGE] id=%d author=%s sent_at=%s body=%q\n",
			msg.ID, msg.Author, msg.SentAt.Format(time.RFC3339), msg.Body)
	}

	logger.Info("stream ended", "messages", valid, "malformed", malformed)
}
