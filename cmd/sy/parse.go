package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/sessionyard/internal/transcript"
)

func newParseCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "parse <file.jsonl>",
		Short: "Parse a transcript without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := transcript.Parse(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, sess)
			}
			fmt.Fprintf(out, "Session:  %s\n", sess.SessionID)
			fmt.Fprintf(out, "Project:  %s (%s)\n", sess.ProjectName, orDash(sess.ProjectPath))
			fmt.Fprintf(out, "Model:    %s\n", orDash(sess.Model))
			fmt.Fprintf(out, "Messages: %d\n", len(sess.Messages))
			if sess.Skipped > 0 {
				fmt.Fprintf(out, "Skipped:  %d\n", sess.Skipped)
				for _, le := range sess.LineErrors {
					fmt.Fprintf(out, "  %v\n", le)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the parsed session as JSON")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
