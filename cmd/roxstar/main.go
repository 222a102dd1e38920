package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/config"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/logging"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/remote"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/seed"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/server"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/store"
	roxsync "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/sync"
)

var Version = "dev"

func main() {
	// Handle hash-password subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		hashPassword()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter password: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	password := scanner.Text()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("roxstar starting",
		slog.String("version", Version),
		slog.Bool("remote", cfg.RemoteConfigured()),
		slog.String("listen", cfg.ListenAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := logging.NewRecorder(logger, nil)

	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer st.Close()

	var (
		remoteStore roxsync.RemoteStore
		realtime    roxsync.RealtimeChannel
	)

	if cfg.RemoteConfigured() {
		remoteStore = remote.NewClient(cfg.RemoteURL, cfg.RemoteKey, nil)
		realtime = remote.NewRealtime(cfg.RemoteURL, cfg.RemoteKey, logger)
		logger.Info("remote sync enabled", slog.String("url", cfg.RemoteURL))
	} else {
		logger.Info("remote not configured, running offline")
	}

	whitelist := cfg.Whitelist

	var asset *seed.Asset
	if cfg.SeedPath != "" {
		asset, err = seed.Load(cfg.SeedPath)
		if err != nil {
			logger.Warn("seed asset unavailable", slog.String("error", err.Error()))
		} else {
			logger.Info("seed asset loaded",
				slog.Int("items", len(asset.Items)),
				slog.Int("whitelist", len(asset.Whitelist)),
			)

			if len(whitelist) == 0 {
				whitelist = asset.Whitelist
			}

			seedFixedList(ctx, st, remoteStore, realtime, recorder, logger, asset)
		}
	}

	if len(whitelist) == 0 {
		logger.Warn("no credentials configured, nobody can log in")
	}

	mux := server.NewMux(server.MuxConfig{
		Store:     st,
		Remote:    remoteStore,
		Realtime:  realtime,
		Whitelist: whitelist,
		Recorder:  recorder,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.SeedPath != "" && asset != nil {
		watcher := seed.NewWatcher(cfg.SeedPath, logger, func(a *seed.Asset) {
			seedFixedList(gctx, st, remoteStore, realtime, recorder, logger, a)
		})
		g.Go(func() error {
			err := watcher.Watch(gctx)
			if err != nil && gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// seedFixedList tops up the built-in shopping list with any asset items
// not yet present. It runs in the shared namespace: the fixed list
// belongs to the household, not to one login.
func seedFixedList(ctx context.Context, st *store.Store, rs roxsync.RemoteStore, rt roxsync.RealtimeChannel, rec *logging.Recorder, logger *slog.Logger, asset *seed.Asset) {
	svc := roxsync.New(roxsync.Config{
		Local:    st.Namespace(""),
		Remote:   rs,
		Realtime: rt,
		Recorder: rec,
		Logger:   logger,
	})

	if added := seed.EnsureFixedChecklist(ctx, svc, asset); added > 0 {
		logger.Info("fixed checklist seeded", slog.Int("added", added))
	}
}
