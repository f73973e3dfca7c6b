package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/sessionyard/internal/store"
	"golang.org/x/term"
)

const (
	ansiHighlight = "\x1b[1;33m"
	ansiReset     = "\x1b[0m"
)

func newSearchCmd() *cobra.Command {
	var (
		flags     configFlags
		projectID int64
		since     string
		until     string
		limit     int
		order     string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Full-text search over stored messages",
		Long: `Searches message content. Every word is matched literally and any word may
match; results are ranked by relevance unless --order says otherwise.

--since and --until accept a millisecond timestamp, a date (2006-01-02) or an
RFC 3339 time.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := store.ParseOrder(order)
			if err != nil {
				return err
			}
			opts := store.SearchOptions{
				Query:     strings.Join(args, " "),
				ProjectID: projectID,
				Limit:     limit,
				Order:     o,
			}
			if opts.Start, err = parseTimeFlag("since", since); err != nil {
				return err
			}
			if opts.End, err = parseTimeFlag("until", until); err != nil {
				return err
			}
			return runSearch(cmd, &flags, opts, asJSON)
		},
	}

	flags.register(cmd)
	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "only search this project id")
	cmd.Flags().StringVar(&since, "since", "", "only messages at or after this time")
	cmd.Flags().StringVar(&until, "until", "", "only messages at or before this time")
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultSearchLimit, "maximum results")
	cmd.Flags().StringVar(&order, "order", "score", "result order: score, time_desc or time_asc")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func runSearch(cmd *cobra.Command, flags *configFlags, opts store.SearchOptions, asJSON bool) error {
	_, d, err := flags.connect()
	if err != nil {
		return err
	}
	defer d.Close()

	results, err := d.SearchFTS(opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}

	color := isTerminal(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPROJECT\tSESSION\tROLE\tSNIPPET")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			formatMillis(r.Timestamp), truncate(r.ProjectName, 24), truncate(r.SessionID, 12),
			r.Role, highlight(oneLine(r.Snippet), color))
	}
	w.Flush()
	return nil
}

// highlight renders match markers as ANSI bold on a terminal and drops
// them otherwise.
func highlight(snippet string, color bool) string {
	if !color {
		return store.StripMarks(snippet)
	}
	r := strings.NewReplacer(store.MarkOpen, ansiHighlight, store.MarkClose, ansiReset)
	return r.Replace(snippet)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseTimeFlag accepts milliseconds, a date or an RFC 3339 time. Empty
// means no bound.
func parseTimeFlag(name, v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return &ms, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			ms := t.UnixMilli()
			return &ms, nil
		}
	}
	return nil, fmt.Errorf("--%s: cannot parse %q as a time", name, v)
}
