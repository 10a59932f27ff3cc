package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/planmodel"
	"github.com/roach88/plancast/internal/store"
)

// InspectedFile is the decoded content of one recording or snapshot file.
type InspectedFile struct {
	File         string           `json:"file"`
	Kind         string           `json:"kind"` // "recording" | "snapshot"
	Transmission *ir.Transmission `json:"transmission,omitempty"`
	Snapshot     *SnapshotInfo    `json:"snapshot,omitempty"`
}

// SnapshotInfo summarizes a snapshot or backup file.
type SnapshotInfo struct {
	Version   int       `json:"version"`
	LastSeq   uint64    `json:"last_seq"`
	CreatedAt time.Time `json:"created_at"`
	Digest    string    `json:"digest"`
	Scopes    []string  `json:"scopes"`
	ReadOnly  bool      `json:"read_only"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file>...",
		Short: "Decode recording and snapshot files",
		Long: `Decode recorded transmission files (.bin) and snapshot or backup
files (scenarios.dat). Snapshot digests are verified while reading.

Examples:
  plancast inspect data/recordings/20260501T080000Z/0000000003.plan.set.bin
  plancast inspect data/scenarios.dat --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runInspect(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	cr, err := newCodec()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build codec", err)
	}

	files := make([]InspectedFile, 0, len(paths))
	for _, path := range paths {
		f := InspectedFile{File: path}
		if strings.HasSuffix(path, "scenarios.dat") {
			info, err := inspectSnapshot(path)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", path), err)
			}
			f.Kind = "snapshot"
			f.Snapshot = info
		} else {
			data, err := os.ReadFile(path)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", path), err)
			}
			t, err := cr.Decode(data)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to decode %s", path), err)
			}
			f.Kind = "recording"
			f.Transmission = &t
		}
		files = append(files, f)
	}

	out := newFormatter(opts, cmd)
	if out.JSON() {
		return out.Success(files)
	}
	w := cmd.OutOrStdout()
	for _, f := range files {
		writeInspectText(w, f, opts.Verbose)
	}
	return nil
}

func inspectSnapshot(path string) (*SnapshotInfo, error) {
	snap, err := store.ReadSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	model := planmodel.New(slog.New(slog.DiscardHandler))
	if err := model.Deserialize(snap.Data); err != nil {
		return nil, err
	}
	return &SnapshotInfo{
		Version:   snap.Version,
		LastSeq:   snap.LastSeq,
		CreatedAt: snap.CreatedAt,
		Digest:    snap.Digest,
		Scopes:    model.Scopes(),
		ReadOnly:  model.ReadOnly(),
	}, nil
}

func writeInspectText(w io.Writer, f InspectedFile, verbose bool) {
	fmt.Fprintf(w, "%s (%s)\n", filepath.Base(f.File), f.Kind)
	if s := f.Snapshot; s != nil {
		fmt.Fprintf(w, "  version %d, last seq %d, created %s\n", s.Version, s.LastSeq, s.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  scopes %v, read-only %v\n", s.Scopes, s.ReadOnly)
		fmt.Fprintf(w, "  digest %s\n", s.Digest)
		return
	}
	t := f.Transmission
	for _, part := range t.Flatten() {
		scope := part.Scope
		if scope == ir.SystemScope {
			scope = "(system)"
		}
		fmt.Fprintf(w, "  [%d] %s %s by %s at %s\n", part.Seq, part.Type, scope, part.Instigator,
			part.Timestamp.UTC().Format(time.RFC3339))
		if verbose && len(part.Payload) > 0 {
			fmt.Fprintf(w, "      %s\n", part.Payload)
		}
	}
}
