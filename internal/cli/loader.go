package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/plancast/internal/codec"
	"github.com/roach88/plancast/internal/config"
	"github.com/roach88/plancast/internal/logging"
	"github.com/roach88/plancast/internal/planmodel"
	"github.com/roach88/plancast/internal/store"
)

// loadConfig loads the config named by --config, or defaults plus
// environment overrides when none is given. A non-empty workDir overrides
// the configured work directory.
func loadConfig(opts *RootOptions, workDir string) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return nil, WrapExitError(ExitCommandError, "invalid config", verr)
		}
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	return cfg, nil
}

// newLogger builds the process logger. Verbose forces debug level.
func newLogger(w io.Writer, cfg *config.Config, verbose bool) *slog.Logger {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return logging.NewLogger(w, cfg.Env, level)
}

// newCodec returns the codec with every plan transmission registered.
func newCodec() (*codec.Registry, error) {
	cr := codec.NewDefaultRegistry()
	if err := planmodel.Register(cr); err != nil {
		return nil, err
	}
	return cr, nil
}

// openStore opens an existing work directory for offline commands.
func openStore(workDir string, logger *slog.Logger) (*store.Store, error) {
	if _, err := os.Stat(workDir); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("work directory %s not found", workDir), err)
	}
	cr, err := newCodec()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build codec", err)
	}
	st, err := store.Open(workDir, cr, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}
