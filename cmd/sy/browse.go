package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		flags  configFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := flags.connect()
			if err != nil {
				return err
			}
			defer d.Close()

			stats, err := d.GetStats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, stats)
			}
			fmt.Fprintf(out, "Database:     %s\n", d.Path())
			fmt.Fprintf(out, "Projects:     %d\n", stats.Projects)
			fmt.Fprintf(out, "Sessions:     %d\n", stats.Sessions)
			fmt.Fprintf(out, "Messages:     %d\n", stats.Messages)
			fmt.Fprintf(out, "Last message: %s\n", formatMillisPtr(stats.LastMessageAt))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newProjectsCmd() *cobra.Command {
	var (
		flags  configFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := flags.connect()
			if err != nil {
				return err
			}
			defer d.Close()

			projects, err := d.ListProjects()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, projects)
			}
			if len(projects) == 0 {
				fmt.Fprintln(out, "No projects found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSOURCE\tSESSIONS\tMESSAGES\tLAST MESSAGE\tPATH")
			for _, p := range projects {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
					p.ID, truncate(p.Name, 30), p.Source, p.SessionCount, p.MessageCount,
					formatMillisPtr(p.LastMessageAt), p.Path)
			}
			w.Flush()
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	var (
		flags  configFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sessions <project-id>",
		Short: "List a project's sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("project id must be an integer: %q", args[0])
			}
			_, d, err := flags.connect()
			if err != nil {
				return err
			}
			defer d.Close()

			sessions, err := d.ListSessions(projectID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tMESSAGES\tLAST MESSAGE\tMODEL")
			for _, s := range sessions {
				model := s.Model
				if model == "" {
					model = "-"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.SessionID, s.MessageCount, formatMillisPtr(s.LastMessageAt), model)
			}
			w.Flush()
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newMessagesCmd() *cobra.Command {
	var (
		flags  configFlags
		limit  int
		offset int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "messages <session-id-or-prefix>",
		Short: "Print a session's messages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := flags.connect()
			if err != nil {
				return err
			}
			defer d.Close()

			id, err := d.ResolveSessionID(args[0])
			if err != nil {
				return err
			}
			msgs, err := d.ListMessages(id, limit, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, msgs)
			}
			fmt.Fprintf(out, "Session %s\n", id)
			for _, m := range msgs {
				fmt.Fprintf(out, "\n[%s] %s\n%s\n", formatMillis(m.Timestamp), m.Role, m.Content)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum messages")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many messages")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
