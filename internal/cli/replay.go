package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Entities bool // include rebuilt entities in the output
}

// ReplaySummary holds the replay result.
type ReplaySummary struct {
	LastSeq  int64               `json:"last_seq"`
	Applied  int                 `json:"applied"`
	Count    int                 `json:"entity_count"`
	Digest   string              `json:"digest"`
	Verified bool                `json:"verified"`
	Entities map[string]any      `json:"entities,omitempty"`
	Check    *journal.Checkpoint `json:"checkpoint,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the entity store from a journal and verify it",
		Long: `Rebuild the entity store by re-applying every journaled entity mutation,
then compare its digest with the last checkpoint the engine wrote.

Exit codes:
  0 - Rebuilt store matches the checkpoint (or no checkpoint exists)
  1 - Digest mismatch
  2 - Command error (journal not found, unreadable events)

Examples:
  statekit replay --db ./statekit.db
  statekit replay --db ./statekit.db --entities --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.Entities, "entities", false, "print the rebuilt entities")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	j, err := openExistingJournal(opts.Database)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer j.Close()

	res, err := j.Replay(ctx)
	if errors.Is(err, journal.ErrDigestMismatch) {
		return fail(formatter, ExitFailure, ErrCodeDigest, "replay does not match checkpoint", err)
	}
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeJournal, "replay failed", err)
	}

	summary := ReplaySummary{
		LastSeq:  res.LastSeq,
		Applied:  res.Applied,
		Count:    res.Entities.Len(),
		Digest:   res.Digest,
		Verified: res.Checkpoint != nil,
		Check:    res.Checkpoint,
	}
	if opts.Entities {
		summary.Entities = map[string]any{}
		for _, e := range res.Entities.All() {
			summary.Entities[e.Key] = ir.ToAny(e.Attrs())
		}
	}
	formatter.VerboseLog("Replayed %d mutation(s) up to seq %d", res.Applied, res.LastSeq)

	if formatter.JSON() {
		return formatter.Success(summary)
	}
	return outputReplayText(formatter, summary, res)
}

func outputReplayText(f *OutputFormatter, s ReplaySummary, res journal.ReplayResult) error {
	w := f.Writer
	if s.Verified {
		fmt.Fprintf(w, "✓ Replay matches checkpoint at seq %d\n", s.Check.Seq)
	} else {
		fmt.Fprintln(w, "Replay complete (no checkpoint to verify)")
	}
	fmt.Fprintf(w, "entities=%d applied=%d last_seq=%d\n", s.Count, s.Applied, s.LastSeq)
	fmt.Fprintf(w, "digest: %s\n", s.Digest)

	if s.Entities != nil {
		for _, e := range res.Entities.All() {
			data, err := ir.MarshalCanonical(e.Attrs())
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  %s %s\n", e.Key, data)
		}
	}
	return nil
}
