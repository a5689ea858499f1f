package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/sesh/internal/config"
	"github.com/kalambet/sesh/internal/devserver"
	"github.com/kalambet/sesh/internal/tools"
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local stand-in for the hosted search service",
	Long: `Run a local stand-in for the hosted search service.

The dev server keeps groups and turns in memory and answers every search
with a canned response. Point sesh at it with:

  sesh config set service.base_url http://127.0.0.1:8787`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := commandContext()
		defer stop()

		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Dev.Port)
		srv := &http.Server{
			Addr:    addr,
			Handler: devserver.New(cfg.Service.APIKey).Handler(),
		}

		// Start server in a goroutine.
		errCh := make(chan error, 1)
		go func() {
			fmt.Fprintf(os.Stderr, "dev server listening on %s\n", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		// Wait for signal or server error.
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		// Graceful shutdown with timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve session tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext()
		defer stop()

		mcpSrv := tools.NewServer(tools.Deps{
			Coordinator: a.coord,
			Dispatcher:  a.dispatcher,
			Tracker:     a.tracker,
		})

		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
