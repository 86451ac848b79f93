package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/journal"
	"github.com/roach88/statekit/internal/operation"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Op       string // optional - filter to one operation key
	Kind     string // optional - filter to one event kind
	Limit    int
}

// TraceResult holds the trace output.
type TraceResult struct {
	Events []journal.Event `json:"events"`
	Stats  TraceStats      `json:"stats"`
}

// TraceStats summarizes the listed events.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	ByKind      map[string]int `json:"by_kind"`
	LastSeq     int64          `json:"last_seq"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List journal events",
		Long: `List the events recorded in a journal in the order they were applied.

Stale events are resolutions the engine discarded because a newer request
owned the operation key at the time.

Examples:
  statekit trace --db ./statekit.db
  statekit trace --db ./statekit.db --op fetchEntity:u1
  statekit trace --db ./statekit.db --kind stale --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Op, "op", "", "filter to an operation key (kind:target)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to an event kind")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Op != "" {
		if _, err := operation.ParseKey(opts.Op); err != nil {
			return fail(formatter, ExitCommandError, ErrCodeGeneric, "invalid --op", err)
		}
	}

	j, err := openExistingJournal(opts.Database)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer j.Close()

	events, err := j.Events(ctx, journal.Filter{OpKey: opts.Op, Kind: journal.Kind(opts.Kind), Limit: opts.Limit})
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeJournal, "failed to read events", err)
	}

	result := TraceResult{Events: events, Stats: TraceStats{ByKind: map[string]int{}}}
	for _, ev := range events {
		result.Stats.TotalEvents++
		result.Stats.ByKind[string(ev.Kind)]++
		result.Stats.LastSeq = max(result.Stats.LastSeq, ev.Seq)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputTraceText(formatter, result)
}

// openExistingJournal opens a journal without creating a new file.
func openExistingJournal(path string) (*journal.Journal, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal not found: %s", path)
	}
	return journal.Open(path)
}

func outputTraceText(f *OutputFormatter, result TraceResult) error {
	w := f.Writer
	if len(result.Events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tKIND\tSUBJECT\tREQUEST\tDETAIL")
	for _, ev := range result.Events {
		subject := ev.OpKey
		if subject == "" {
			subject = ev.EntityKey
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", ev.Seq, ev.Kind, subject, ev.RequestID, eventDetail(ev, f.Verbose))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d event(s), last seq %d\n", result.Stats.TotalEvents, result.Stats.LastSeq)
	return nil
}

// eventDetail shows the error for failures and, when verbose, the payload.
func eventDetail(ev journal.Event, verbose bool) string {
	var parts []string
	if ev.Error != "" {
		parts = append(parts, "error="+ev.Error)
	}
	if verbose && ev.Payload != nil {
		if data, err := ir.MarshalCanonical(ev.Payload); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, " ")
}
