package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/plancast/internal/store"
)

// RecordingsOptions holds flags shared by the recordings subcommands.
type RecordingsOptions struct {
	*RootOptions
	WorkDir string
	Max     int
}

// RecordingDirInfo summarizes one recording directory.
type RecordingDirInfo struct {
	Dir        string `json:"dir"`
	Recordings int    `json:"recordings"`
	FirstSeq   uint64 `json:"first_seq,omitempty"`
	LastSeq    uint64 `json:"last_seq,omitempty"`
	Backups    int    `json:"backups"`
	AnchorSeq  uint64 `json:"anchor_seq,omitempty"`
}

// NewRecordingsCommand creates the recordings command group.
func NewRecordingsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordingsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "Inspect and rotate recording directories",
		Long: `Inspect and rotate the recording directories of a work directory.

These commands operate on a stopped server's work directory.`,
	}
	cmd.PersistentFlags().StringVar(&opts.WorkDir, "work-dir", "", "work directory (overrides work_dir)")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List recording directories",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordingsList(opts, cmd)
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete the oldest recording directories",
		Long: `Delete recording directories oldest first until at most --max remain.

Directories holding recordings newer than the last snapshot are kept.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordingsPrune(opts, cmd)
		},
	}
	prune.Flags().IntVar(&opts.Max, "max", 0, "directories to keep (defaults to max_stored_recordings)")

	reindex := &cobra.Command{
		Use:           "reindex",
		Short:         "Rebuild the recording catalog from the files on disk",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordingsReindex(opts, cmd)
		},
	}

	cmd.AddCommand(list, prune, reindex)
	return cmd
}

func openRecordingsStore(opts *RecordingsOptions, cmd *cobra.Command) (*store.Store, int, error) {
	cfg, err := loadConfig(opts.RootOptions, opts.WorkDir)
	if err != nil {
		return nil, 0, err
	}
	st, err := openStore(cfg.WorkDir, newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose))
	if err != nil {
		return nil, 0, err
	}
	return st, cfg.MaxStoredRecordings, nil
}

func runRecordingsList(opts *RecordingsOptions, cmd *cobra.Command) error {
	st, _, err := openRecordingsStore(opts, cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	dirs, err := st.RecordingDirs()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list recording directories", err)
	}
	infos := make([]RecordingDirInfo, 0, len(dirs))
	for _, dir := range dirs {
		info, err := describeDir(dir)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", filepath.Base(dir)), err)
		}
		infos = append(infos, info)
	}

	out := newFormatter(opts.RootOptions, cmd)
	if out.JSON() {
		return out.Success(infos)
	}
	w := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(w, "No recording directories.")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(w, "%s  recordings=%d seq=%d..%d backups=%d anchor=%d\n",
			info.Dir, info.Recordings, info.FirstSeq, info.LastSeq, info.Backups, info.AnchorSeq)
	}
	return nil
}

func describeDir(dir string) (RecordingDirInfo, error) {
	info := RecordingDirInfo{Dir: filepath.Base(dir)}
	recs, err := store.ListRecordings(dir)
	if err != nil {
		return info, err
	}
	info.Recordings = len(recs)
	if len(recs) > 0 {
		info.FirstSeq = recs[0].Seq
		info.LastSeq = recs[len(recs)-1].Seq
	}
	backups, err := store.ListBackups(dir)
	if err != nil {
		return info, err
	}
	info.Backups = len(backups)
	if len(backups) > 0 {
		info.AnchorSeq = backups[0].Seq
	}
	return info, nil
}

func runRecordingsPrune(opts *RecordingsOptions, cmd *cobra.Command) error {
	st, keep, err := openRecordingsStore(opts, cmd)
	if err != nil {
		return err
	}
	defer st.Close()
	if opts.Max > 0 {
		keep = opts.Max
	}

	var keepAfter uint64
	snap, err := st.LoadSnapshot()
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	default:
		keepAfter = snap.LastSeq
	}

	removed, err := st.PruneRecordings(cmd.Context(), keep, keepAfter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prune recordings", err)
	}
	names := make([]string, len(removed))
	for i, dir := range removed {
		names[i] = filepath.Base(dir)
	}

	out := newFormatter(opts.RootOptions, cmd)
	if out.JSON() {
		return out.Success(map[string]any{"removed": names, "max": keep, "snapshot_seq": keepAfter})
	}
	w := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintf(w, "removed %s\n", name)
	}
	fmt.Fprintf(w, "%d dir(s) removed\n", len(names))
	return nil
}

func runRecordingsReindex(opts *RecordingsOptions, cmd *cobra.Command) error {
	st, _, err := openRecordingsStore(opts, cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.Reindex(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to reindex recordings", err)
	}
	out := newFormatter(opts.RootOptions, cmd)
	if out.JSON() {
		return out.Success(map[string]int{"indexed": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d recording(s) indexed\n", n)
	return nil
}
