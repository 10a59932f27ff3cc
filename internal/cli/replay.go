package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/playback"
	"github.com/roach88/plancast/internal/server"
	"github.com/roach88/plancast/internal/store"
)

// Replay modes accepted by --mode.
const (
	ModeFull       = "full"
	ModeSingle     = "single"
	ModeUntilLogin = "until-login"
)

var validModes = []string{ModeFull, ModeSingle, ModeUntilLogin}

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	WorkDir string
	Mode    string
	Skip    []string
	Verify  bool
}

// ReplayDirResult is the replay of one recording directory.
type ReplayDirResult struct {
	Dir         string              `json:"dir"`
	AnchorSeq   uint64              `json:"anchor_seq"`
	Progress    playback.Progress   `json:"progress"`
	Ended       bool                `json:"ended"`
	Divergences []server.Divergence `json:"divergences"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Dirs     []ReplayDirResult `json:"dirs"`
	Verified bool              `json:"verified"`
	AllMatch bool              `json:"all_match"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [recording-dir...]",
		Short: "Replay recordings and compare checksums with the live run",
		Long: `Replay recording directories from their anchor backups through an
offline broadcast path and compare every checksum with the one computed
live for the same transmission and scope.

Without arguments every recording directory in the work directory is
replayed. Directories may be given by name or by path.

Exit codes:
  0 - Replay matched the live checksums
  1 - At least one checksum diverged
  2 - Command error (work directory not found, etc.)

Examples:
  plancast replay --work-dir ./data
  plancast replay 20260501T080000Z --mode until-login
  plancast replay --skip plan.delete --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.WorkDir, "work-dir", "", "work directory (overrides work_dir)")
	cmd.Flags().StringVar(&opts.Mode, "mode", ModeFull, "playback mode (full|single|until-login)")
	cmd.Flags().StringSliceVar(&opts.Skip, "skip", nil, "skip the next recording of this type (repeatable)")
	cmd.Flags().BoolVar(&opts.Verify, "verify", true, "compare replay checksums with live checksums")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, args []string, cmd *cobra.Command) error {
	if !slices.Contains(validModes, opts.Mode) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be one of %v", opts.Mode, validModes))
	}

	cfg, err := loadConfig(opts.RootOptions, opts.WorkDir)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)
	out := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(cfg.WorkDir, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	dirs, err := replayDirs(st, args)
	if err != nil {
		return err
	}

	result := ReplayResult{Dirs: make([]ReplayDirResult, 0, len(dirs)), Verified: opts.Verify, AllMatch: true}
	for _, dir := range dirs {
		out.VerboseLog("replaying %s", dir)
		dr, err := replayDir(ctx, st, dir, opts, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay %s", filepath.Base(dir)), err)
		}
		if len(dr.Divergences) > 0 {
			result.AllMatch = false
		}
		result.Dirs = append(result.Dirs, dr)
	}

	if !out.JSON() {
		writeReplayText(cmd.OutOrStdout(), result, opts.Verbose)
	}
	return out.Result(result, !result.AllMatch, "E_DIVERGED", "replay checksums diverged")
}

// replayDirs resolves the requested directories, or returns all of them.
func replayDirs(st *store.Store, args []string) ([]string, error) {
	all, err := st.RecordingDirs()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list recording directories", err)
	}
	if len(args) == 0 {
		return all, nil
	}
	dirs := make([]string, 0, len(args))
	for _, arg := range args {
		idx := slices.IndexFunc(all, func(d string) bool {
			return filepath.Base(d) == filepath.Base(arg)
		})
		if idx < 0 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("recording directory not found: %s", arg))
		}
		dirs = append(dirs, all[idx])
	}
	return dirs, nil
}

func replayDir(ctx context.Context, st *store.Store, dir string, opts *ReplayOptions, logger *slog.Logger) (ReplayDirResult, error) {
	r, err := server.NewReplay(ctx, st, dir, logger)
	if err != nil {
		return ReplayDirResult{}, err
	}
	defer r.Close()

	for _, tag := range opts.Skip {
		r.Driver.SkipNext(ir.TypeTag(tag))
	}

	var progress playback.Progress
	switch opts.Mode {
	case ModeSingle:
		progress, err = r.Driver.PlaySingle(ctx)
	case ModeUntilLogin:
		progress, err = r.Driver.PlayUntilLogin(ctx)
	default:
		progress, err = r.Driver.PlayFull(ctx)
	}
	if err != nil {
		return ReplayDirResult{}, err
	}

	dr := ReplayDirResult{
		Dir:         filepath.Base(dir),
		AnchorSeq:   r.AnchorSeq,
		Progress:    progress,
		Ended:       r.Driver.Ended(),
		Divergences: []server.Divergence{},
	}
	if opts.Verify {
		divs, err := r.Verify(ctx)
		if err != nil {
			return ReplayDirResult{}, err
		}
		if divs != nil {
			dr.Divergences = divs
		}
	}
	return dr, nil
}

func writeReplayText(w io.Writer, result ReplayResult, verbose bool) {
	if len(result.Dirs) == 0 {
		fmt.Fprintln(w, "No recordings found.")
		return
	}

	fmt.Fprintf(w, "Replay Summary: %d recording dir(s)\n\n", len(result.Dirs))
	for _, d := range result.Dirs {
		status := "✓"
		if len(d.Divergences) > 0 {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s (anchor seq %d)\n", status, d.Dir, d.AnchorSeq)
		fmt.Fprintf(w, "  Played: %d/%d, skipped %d, failed %d, last seq %d\n",
			d.Progress.Played, d.Progress.Total, d.Progress.Skipped, d.Progress.Failed, d.Progress.LastSeq)
		if !d.Ended {
			fmt.Fprintf(w, "  Paused at position %d\n", d.Progress.Position)
		}
		for i, div := range d.Divergences {
			if !verbose && i == 3 {
				fmt.Fprintf(w, "  ... %d more (use --verbose)\n", len(d.Divergences)-i)
				break
			}
			fmt.Fprintf(w, "  Diverged at seq %d scope %q: live %s replay %s\n", div.Seq, div.Scope, div.Live, div.Replay)
		}
		fmt.Fprintln(w)
	}

	switch {
	case !result.Verified:
		fmt.Fprintln(w, "Checksums not verified")
	case result.AllMatch:
		fmt.Fprintln(w, "✓ All replay checksums match")
	default:
		fmt.Fprintln(w, "✗ Replay checksums diverged")
	}
}
