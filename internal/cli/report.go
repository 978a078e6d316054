package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/msgpass/internal/collector"
	"github.com/roach88/msgpass/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	DB     string
	Source string // only entries sent by this node
}

// ReportEntry is one logged message in JSON output.
type ReportEntry struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Kind        string `json:"kind"`
	Seq         int64  `json:"seq"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	Timestamp   string `json:"ts"`
	Body        string `json:"body"`
}

// ReportPair relates two entries by index.
type ReportPair struct {
	From     int    `json:"from"`
	To       int    `json:"to"`
	Relation string `json:"relation"`
}

// ReportResult is the JSON payload of the report command.
type ReportResult struct {
	Entries []ReportEntry `json:"entries"`
	Pairs   []ReportPair  `json:"pairs"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the happened-before report of a log database",
		Long: `Print the messages stored by a log collector and how their timestamps
relate: "->" happened before, "||" concurrent, "==" equal, and "??" when
a logical timestamp cannot establish causality.

Examples:
  msgpass report --db msgpass-log.db
  msgpass report --db msgpass-log.db --source alice --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "log collector database")
	cmd.Flags().StringVar(&opts.Source, "source", "", "only messages sent by this node, in sequence order")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.DB); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.DB), err)
	}
	st, err := store.Open(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	var entries []store.Entry
	if opts.Source != "" {
		entries, err = st.BySource(ctx, opts.Source)
	} else {
		entries, err = st.Entries(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot read entries", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		return formatter.Success(buildReport(entries))
	}
	return collector.WriteReport(cmd.OutOrStdout(), entries)
}

func buildReport(entries []store.Entry) ReportResult {
	res := ReportResult{Entries: make([]ReportEntry, len(entries)), Pairs: []ReportPair{}}
	for i, e := range entries {
		m := e.Message
		res.Entries[i] = ReportEntry{
			Index:       i,
			ID:          e.ID,
			Source:      m.Source,
			Destination: m.Destination,
			Kind:        m.Kind,
			Seq:         m.Seq,
			Duplicate:   m.Duplicate,
			Timestamp:   m.Timestamp.String(),
			Body:        m.Body(),
		}
	}
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			rel := collector.Relation(entries[i].Message.Timestamp, entries[j].Message.Timestamp)
			pair := ReportPair{From: i, To: j, Relation: rel}
			if rel == collector.HappenedAfter {
				pair = ReportPair{From: j, To: i, Relation: collector.HappenedBefore}
			}
			res.Pairs = append(res.Pairs, pair)
		}
	}
	return res
}
