package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnehpets/booktracker/api"
	"github.com/mnehpets/booktracker/book"
	"github.com/mnehpets/booktracker/broadcast"
	"github.com/mnehpets/booktracker/config"
	"github.com/mnehpets/booktracker/jsonrpc"
	"github.com/mnehpets/booktracker/library"
	"github.com/mnehpets/booktracker/mcp"
	"github.com/mnehpets/booktracker/tools"
	"github.com/mnehpets/booktracker/workpool"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	configPath string
	addr       string
	logLevel   string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = opts.addr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = opts.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML configuration file")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides configuration)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides configuration)")
	return cmd
}

// run serves until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	srv, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// newApp wires the store, broadcaster, services and endpoints into a server.
func newApp(cfg *config.Config, log *slog.Logger) (*api.Server, error) {
	store, err := openStore(cfg.Snapshot)
	if err != nil {
		return nil, err
	}

	events := broadcast.New(
		broadcast.WithBufferSize[book.Book](cfg.Stream.BufferSize),
		broadcast.WithHeartbeat(cfg.Stream.HeartbeatInterval, book.Heartbeat),
		broadcast.WithLogger[book.Book](log),
	)
	svc := library.NewService(store, events, library.WithLogger(log))

	reg := tools.NewRegistry()
	inv := tools.NewInvoker(reg, svc, tools.WithLogger(log))
	pool := workpool.New(cfg.Workers, workpool.WithLogger(log))

	rpc := jsonrpc.NewEndpoint(jsonrpc.WithLogger(log))
	rpc.Register("", mcp.NewServer(inv, reg, pool, mcp.WithLogger(log)))

	books := api.NewBooks(svc, events, api.WithBooksLogger(log))
	srv := api.NewServer(cfg.Addr, books, rpc,
		api.WithLogger(log),
		api.WithAllowedOrigins(cfg.CORS.AllowedOrigins...),
		api.WithOnShutdown(events.Close),
	)
	log.Info("store ready", "records", store.Len(), "snapshot", cfg.Snapshot.Path)
	return srv, nil
}

func openStore(cfg config.SnapshotConfig) (*book.MemoryStore, error) {
	if cfg.Path == "" {
		return book.NewMemoryStore(), nil
	}
	var codec book.SnapshotCodec = book.CBORCodec{}
	key, err := cfg.DecodeKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		sealed, err := book.NewSealedCodec(codec, cfg.KeyID, map[string][]byte{cfg.KeyID: key})
		if err != nil {
			return nil, err
		}
		codec = sealed
	}
	store, err := book.OpenMemoryStore(book.WithSnapshot(cfg.Path, codec))
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", cfg.Path, err)
	}
	return store, nil
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tools/list result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := tools.NewRegistry()
			srv := mcp.NewServer(tools.NewInvoker(reg, nil), reg, nil)
			res, err := srv.ListTools(cmd.Context(), mcp.ListToolsParams{})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
