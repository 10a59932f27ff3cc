package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/plancast/internal/server"
	"github.com/roach88/plancast/internal/transport/httpapi"
)

// shutdownTimeout bounds connection draining and the final snapshot.
const shutdownTimeout = 30 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	WorkDir string
	Addr    string
	Scopes  []string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broadcast server",
		Long: `Recover state from the work directory and serve the session API.

On SIGINT or SIGTERM the server stops accepting requests, drains open
connections and writes a final snapshot.

Examples:
  plancast serve
  plancast serve --config plancast.yaml --addr :9090
  plancast serve --work-dir ./data --scope plan-a --scope plan-b`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.WorkDir, "work-dir", "", "work directory (overrides work_dir)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http_addr)")
	cmd.Flags().StringSliceVar(&opts.Scopes, "scope", nil, "plan scope to open at startup (repeatable)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, opts.WorkDir)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTPAddr = opts.Addr
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)

	srv, err := server.Open(ctx, cfg, server.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start server", err)
	}
	for _, scope := range opts.Scopes {
		if _, err := srv.LoadScope(ctx, scope); err != nil {
			srv.Close()
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to open scope %s", scope), err)
		}
	}
	srv.Start()

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		srv.Close()
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpSrv := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Deps{
			Sessions:   srv.Registry(),
			Scopes:     srv,
			Snapshots:  srv.Snapshots(),
			Gatherer:   srv.Gatherer(),
			Logger:     logger,
			AdminToken: cfg.AdminToken,
			Version:    Version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("plancast serving",
		"addr", ln.Addr().String(),
		"work_dir", cfg.WorkDir,
		"recovered", srv.Recovered().Played,
		"last_seq", srv.Registry().LastSeq())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			srv.Close()
			return WrapExitError(ExitCommandError, "http server failed", err)
		}
	case <-ctx.Done():
	}

	return shutdown(httpSrv, srv, logger)
}

// shutdown stops the listener first so no submission races the final
// snapshot.
func shutdown(httpSrv *http.Server, srv *server.Server, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down")
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	logger.Info("shutdown complete")
	return nil
}
