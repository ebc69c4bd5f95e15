package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/forum-chat/internal/api"
	"github.com/rickgao/forum-chat/internal/archive"
	"github.com/rickgao/forum-chat/internal/auth"
	"github.com/rickgao/forum-chat/internal/config"
	"github.com/rickgao/forum-chat/internal/connection"
	"github.com/rickgao/forum-chat/internal/database"
	"github.com/rickgao/forum-chat/internal/model"
	"github.com/rickgao/forum-chat/internal/version"
)

// errInputClosed ends the session when stdin reaches EOF.
var errInputClosed = errors.New("input closed")

func main() {
	configPath := flag.String("config", "configs/chatclient.yaml", "path to config file")
	token := flag.String("token", "", "bearer token (overrides api.token and api.token_path)")
	statusAddr := flag.String("status-addr", "", "serve connection status on this address, e.g. :8090")
	flag.Parse()

	// Logs go to stderr so stdout carries only the conversation
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting chat client",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.Log.SlogLevel())

	if *token != "" {
		cfg.API.Token = *token
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *statusAddr, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("chat client stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, statusAddr string, in io.Reader, out io.Writer, logger *slog.Logger) error {
	cred, err := auth.LoadCredential(cfg.API.Token, cfg.API.TokenPath)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if cred.Username != "" {
		logger.Info("credential loaded", "username", cred.Username, "expires_at", cred.ExpiresAt)
	}

	apiClient := api.NewClient(
		cfg.API.RestURL,
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	dialer := connection.NewDialer(connection.ClientConfig{
		PingInterval:     cfg.Connection.PingInterval,
		PingTimeout:      cfg.Connection.ReadTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
	}, logger.With("component", "transport"))

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.WSURL = cfg.API.WSURL
	mgrCfg.ReconnectBaseWait = cfg.Connection.ReconnectBaseDelay
	mgrCfg.ReconnectMaxWait = cfg.Connection.ReconnectMaxDelay
	mgrCfg.AuthCloseCodes = cfg.Connection.AuthCloseCodes
	mgrCfg.ObserverBuffer = cfg.Connection.ObserverBuffer
	if cfg.Identity.Username != "" {
		mgrCfg.FallbackAuthor = cfg.Identity.Username
	}

	mgr := connection.NewManager(mgrCfg, dialer, apiClient, logger.With("component", "connection"))

	events, unsubscribe := mgr.Subscribe()
	defer unsubscribe()

	var archiver *archive.Writer
	if cfg.Archive.Enabled {
		pool, err := database.Connect(ctx, cfg.Archive.Database)
		if err != nil {
			return fmt.Errorf("connect archive database: %w", err)
		}
		defer pool.Close()

		store := archive.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}

		archiveEvents, archiveUnsubscribe := mgr.Subscribe()
		defer archiveUnsubscribe()

		archiver = archive.NewWriter(archive.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, archiveEvents, store, logger.With("component", "archive"))
		if err := archiver.Start(ctx); err != nil {
			return fmt.Errorf("start archive: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			archiver.Stop(shutdownCtx)
		}()
	}

	if statusAddr != "" {
		statusServer := &http.Server{
			Addr:              statusAddr,
			Handler:           newStatusHandler(mgr),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting status server", "addr", statusAddr)
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			statusServer.Shutdown(shutdownCtx)
		}()
	}

	if err := mgr.Start(ctx, cred); err != nil {
		return fmt.Errorf("start connection: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mgr.Stop(shutdownCtx); err != nil {
			logger.Warn("connection manager stop", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return printEvents(gctx, out, events, mgr, archiver)
	})
	g.Go(func() error {
		return readInput(gctx, in, mgr, logger)
	})

	err = g.Wait()
	if errors.Is(err, errInputClosed) || errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}

// printEvents renders manager events until ctx is done. It returns an error
// once the credential has been rejected, since nothing will reconnect.
func printEvents(ctx context.Context, out io.Writer, events <-chan connection.Event, mgr connection.Manager, archiver *archive.Writer) error {
	lastStatus := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case connection.EventMessage:
				fmt.Fprintln(out, formatMessage(ev.Message))

			case connection.EventHistoryLoaded:
				// Entries past the snapshot are live messages with their own events
				msgs := mgr.Messages()
				if ev.Count < len(msgs) {
					msgs = msgs[:ev.Count]
				}
				for _, msg := range msgs {
					fmt.Fprintln(out, formatMessage(msg))
				}
				if archiver != nil {
					archiver.Add(msgs...)
				}

			case connection.EventHistoryFailed:
				fmt.Fprintf(out, "-- could not load earlier messages: %v\n", ev.Err)

			case connection.EventState:
				status := mgr.Snapshot().Status()
				if status != lastStatus {
					fmt.Fprintf(out, "-- %s\n", status)
					lastStatus = status
				}
				if ev.State == connection.StateFailed {
					return fmt.Errorf("connection failed: %w", ev.Err)
				}
			}
		}
	}
}

// readInput sends every non-empty line from in.
func readInput(ctx context.Context, in io.Reader, mgr connection.Manager, logger *slog.Logger) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scanning cannot be interrupted, so it runs detached from ctx
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return errInputClosed
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, err := mgr.Send(line); err != nil {
				logger.Warn("message not sent", "error", err)
			}
		}
	}
}

func formatMessage(msg model.ChatMessage) string {
	author := msg.Author
	if author == "" {
		author = "Anonymous"
	}
	return fmt.Sprintf("[%s] %s: %s", msg.SentAt.Local().Format("15:04:05"), author, msg.Body)
}
