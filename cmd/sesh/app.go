package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/sesh/internal/api"
	"github.com/kalambet/sesh/internal/config"
	"github.com/kalambet/sesh/internal/session"
	"github.com/kalambet/sesh/internal/state"
)

// app bundles the wired components every command needs: config, the durable
// state store, and the session layer on top of the service client.
type app struct {
	cfg        config.Config
	store      *state.Store
	groups     *session.GroupStore
	tracker    *session.Tracker
	coord      *session.Coordinator
	dispatcher *session.Dispatcher
}

var newApp = func() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	store, err := state.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	groups, err := session.NewGroupStore(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading conversation state: %w", err)
	}

	tracker, err := session.NewTracker(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading search state: %w", err)
	}

	client := api.NewClient(cfg.Service.BaseURL, cfg.Service.APIKey)
	coord := session.NewCoordinator(groups, client)

	return &app{
		cfg:        cfg,
		store:      store,
		groups:     groups,
		tracker:    tracker,
		coord:      coord,
		dispatcher: session.NewDispatcher(coord, tracker, client),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing state store: %v\n", err)
	}
}
