package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/sessionyard/internal/collector"
)

func newCollectCmd() *cobra.Command {
	var (
		flags  configFlags
		path   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Ingest new transcript lines into the database",
		Long: `Sweeps every configured source directory and stores messages that are not in
the database yet. Files are read from their last checkpoint, so repeated runs
only process what was appended. With --path only that file is ingested.

collect needs the writer lease and fails if another process holds it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd, &flags, path, asJSON)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&path, "path", "", "ingest a single transcript file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func runCollect(cmd *cobra.Command, flags *configFlags, path string, asJSON bool) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	d, err := openFromConfig(cfg, true)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := requireWriter(d); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.ErrOrStderr())
	defer cancel()

	var res collector.Result
	if path != "" {
		res, err = d.CollectByPath(ctx, path)
	} else {
		res, err = d.Collect(ctx)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, res)
	}
	printResult(out, res)
	return nil
}

func printResult(out io.Writer, res collector.Result) {
	fmt.Fprintf(out, "Projects scanned:  %d\n", res.ProjectsScanned)
	fmt.Fprintf(out, "Sessions scanned:  %d\n", res.SessionsScanned)
	fmt.Fprintf(out, "Messages inserted: %d\n", res.MessagesInserted)
	if res.SkippedLines > 0 {
		fmt.Fprintf(out, "Skipped lines:     %d\n", res.SkippedLines)
	}
	if res.Errors > 0 {
		fmt.Fprintf(out, "Errors:            %d (first: %s)\n", res.Errors, res.FirstError)
	}
}
