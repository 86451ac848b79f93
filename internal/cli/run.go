package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/statekit/internal/engine"
	"github.com/roach88/statekit/internal/harness"
	"github.com/roach88/statekit/internal/journal"
	"github.com/roach88/statekit/internal/metrics"
	"github.com/roach88/statekit/internal/notify"
	"github.com/roach88/statekit/internal/operation"
	"github.com/roach88/statekit/internal/selector"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string // journal path; empty runs without a journal
	Metrics  bool   // print collected metrics
}

// RunSummary is the outcome of one journaled scenario run.
type RunSummary struct {
	Scenario      string   `json:"scenario"`
	Pass          bool     `json:"pass"`
	Errors        []string `json:"errors,omitempty"`
	Seq           int64    `json:"seq"`
	Entities      int      `json:"entities"`
	Pending       int      `json:"pending"`
	Notifications int      `json:"notifications"`
	Journal       string   `json:"journal,omitempty"`
	ResumedAt     int64    `json:"resumed_at,omitempty"`
	Metrics       string   `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run one scenario and record it to a journal",
		Long: `Run one YAML scenario against a live engine, optionally recording every
applied event to a SQLite journal that trace and replay can read.
An existing journal is resumed: the engine starts from its replayed entity
store and continues its sequence numbers.

Exit codes:
  0 - Scenario passed
  1 - Scenario failed, or the existing journal does not match its checkpoint
  2 - Command error (scenario or catalog not found, journal unusable)

Examples:
  statekit run ./scenarios/fetch.yaml --db ./statekit.db
  statekit run ./scenarios/fetch.yaml --metrics --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (created if missing)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print Prometheus metrics after the run")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeNotFound, "failed to load scenario", err)
	}
	cat, err := scenario.LoadCatalog()
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeInvalidCatalog, "failed to load catalog", err)
	}

	runOpts := harness.Options{Catalog: cat, Metrics: metrics.NewCollector("")}
	if opts.Database != "" {
		j, err := journal.Open(opts.Database)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeJournal, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		runOpts.Journal = j
		if err := resumeJournal(j, &runOpts); err != nil {
			if errors.Is(err, journal.ErrDigestMismatch) {
				return fail(formatter, ExitFailure, ErrCodeDigest, "journal does not match its checkpoint", err)
			}
			return fail(formatter, ExitCommandError, ErrCodeJournal, "failed to resume journal", err)
		}
		if runOpts.StartSeq > 0 {
			formatter.VerboseLog("Resuming journal at seq %d with %d entities", runOpts.StartSeq, runOpts.Entities.Len())
		}
	}

	pending := selector.New1(selector.Operations(), func(r *operation.Registry) (int, error) {
		return len(r.Pending()), nil
	}, selector.WithName("pending_operations"))
	if err := runOpts.Metrics.WatchSelector(pending); err != nil {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "failed to register metrics", err)
	}
	runOpts.Attach = func(eng *engine.Engine) {
		notify.Watch(eng.Hub(), pending, func(n int) {
			formatter.VerboseLog("pending operations: %d", n)
		})
	}

	result, err := harness.RunWith(scenario, runOpts)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "scenario execution failed", err)
	}

	summary := RunSummary{
		Scenario:      scenario.Name,
		Pass:          result.Pass,
		Errors:        result.Errors,
		Seq:           result.Final.Seq,
		Entities:      result.Final.Entities.Len(),
		Pending:       len(result.Final.Operations.Pending()),
		Notifications: len(result.Trace),
		Journal:       opts.Database,
		ResumedAt:     runOpts.StartSeq,
	}
	if opts.Metrics {
		text, err := exposition(runOpts.Metrics)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeGeneric, "failed to gather metrics", err)
		}
		summary.Metrics = text
	}

	if formatter.JSON() {
		if summary.Pass {
			_ = formatter.Success(summary)
		} else {
			_ = formatter.Failure(ErrCodeGeneric, "scenario failed", summary)
		}
	} else {
		outputRunText(formatter, summary)
	}

	if !summary.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

// resumeJournal continues a journal that already holds events: the engine
// starts from the replayed store and after the last used seq, so the new
// events extend the old ones instead of overlapping them.
func resumeJournal(j *journal.Journal, opts *harness.Options) error {
	res, err := j.Replay(context.Background())
	if err != nil {
		return err
	}
	start := res.LastSeq
	if res.Checkpoint != nil {
		start = max(start, res.Checkpoint.Seq)
	}
	if start == 0 {
		return nil
	}
	opts.Entities = res.Entities
	opts.StartSeq = start
	return nil
}

// exposition renders the collector in the Prometheus text format.
func exposition(c *metrics.Collector) (string, error) {
	families, err := c.Registry().Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func outputRunText(f *OutputFormatter, s RunSummary) {
	w := f.Writer
	mark := "✓"
	if !s.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s\n", mark, s.Scenario)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	fmt.Fprintf(w, "seq=%d entities=%d pending=%d notifications=%d\n",
		s.Seq, s.Entities, s.Pending, s.Notifications)
	if s.Journal != "" {
		fmt.Fprintf(w, "journal: %s\n", s.Journal)
	}
	if s.ResumedAt > 0 {
		fmt.Fprintf(w, "resumed after seq %d\n", s.ResumedAt)
	}
	if s.Metrics != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, s.Metrics)
	}
}
