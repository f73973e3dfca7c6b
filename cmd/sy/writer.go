package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/sessionyard/internal/lease"
	"github.com/zulandar/sessionyard/internal/sessiondb"
)

func newWriterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "writer",
		Short: "Inspect and manage the writer lease",
	}

	cmd.AddCommand(newWriterStatusCmd())
	cmd.AddCommand(newWriterRegisterCmd())
	cmd.AddCommand(newWriterReleaseCmd())
	cmd.AddCommand(newWriterTakeoverCmd())
	return cmd
}

func newWriterStatusCmd() *cobra.Command {
	var (
		flags  configFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show who holds the writer lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := flags.connect()
			if err != nil {
				return err
			}
			defer d.Close()

			info, err := d.WriterInfo()
			if err != nil {
				return err
			}
			health, err := d.CheckWriterHealth()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{"health": health, "lease": info})
			}
			printLease(out, info, health)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printLease(out io.Writer, info *lease.Info, health lease.Health) {
	if info == nil {
		fmt.Fprintln(out, "No writer has registered.")
		return
	}
	fmt.Fprintf(out, "Holder:         %s\n", info.HolderID)
	fmt.Fprintf(out, "Writer type:    %s (priority %d)\n", info.WriterType, info.Priority)
	fmt.Fprintf(out, "State:          %s\n", info.State)
	fmt.Fprintf(out, "Health:         %s\n", health)
	fmt.Fprintf(out, "Last heartbeat: %s (%s ago)\n", info.Heartbeat.Format(time.RFC3339), time.Since(info.Heartbeat).Round(time.Second))
	fmt.Fprintf(out, "Registered:     %s\n", info.RegisteredAt.Format(time.RFC3339))
	if !info.LastWriteAt.IsZero() {
		fmt.Fprintf(out, "Last write:     %s\n", info.LastWriteAt.Format(time.RFC3339))
	}
}

func newWriterRegisterCmd() *cobra.Command {
	var (
		flags configFlags
		hold  bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Claim the writer lease",
		Long: `Claims the writer lease if no live writer holds it. The lease is released
when the command exits; with --hold it keeps heartbeating until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			fmt.Fprintf(cmd.OutOrStdout(), "Registered as writer %s\n", d.Lease().HolderID())
			if hold {
				holdLease(cmd, d)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&hold, "hold", false, "keep the lease until interrupted")
	return cmd
}

func newWriterReleaseCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Clear a timed-out writer lease",
		Long: `Marks a timed-out lease as released so the next writer can register without
waiting. A live writer is never touched; it releases its own lease on exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := flags.connect()
			if err != nil {
				return err
			}
			defer d.Close()
			return runWriterRelease(cmd.OutOrStdout(), d)
		},
	}

	flags.register(cmd)
	return cmd
}

func runWriterRelease(out io.Writer, d *sessiondb.DB) error {
	info, err := d.WriterInfo()
	if err != nil {
		return err
	}
	if info == nil {
		fmt.Fprintln(out, "No writer has registered.")
		return nil
	}
	health, err := d.CheckWriterHealth()
	if err != nil {
		return err
	}
	switch health {
	case lease.HealthReleased:
		fmt.Fprintln(out, "Lease is already released.")
		return nil
	case lease.HealthAlive:
		return fmt.Errorf("writer %s is alive; it must release the lease itself", info.HolderID)
	}
	ok, err := d.TryTakeover()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lease changed hands while releasing; run writer status")
	}
	if err := d.ReleaseWriter(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Released stale lease of %s\n", info.HolderID)
	return nil
}

func newWriterTakeoverCmd() *cobra.Command {
	var (
		flags configFlags
		hold  bool
	)

	cmd := &cobra.Command{
		Use:   "takeover",
		Short: "Take over a timed-out writer lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := flags.connect()
			if err != nil {
				return err
			}
			defer d.Close()

			ok, err := d.TryTakeover()
			if err != nil {
				return err
			}
			if !ok {
				health, _ := d.CheckWriterHealth()
				return fmt.Errorf("lease is not timed out (health: %s)", health)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Took over the writer lease as %s\n", d.Lease().HolderID())
			if hold {
				holdLease(cmd, d)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&hold, "hold", false, "keep the lease until interrupted")
	return cmd
}

// holdLease blocks until interrupted or the lease is lost.
func holdLease(cmd *cobra.Command, d *sessiondb.DB) {
	ctx, cancel := signalContext(cmd.OutOrStdout())
	defer cancel()
	fmt.Fprintln(cmd.OutOrStdout(), "Holding the lease; press Ctrl-C to release.")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.Role() != lease.RoleWriter {
				fmt.Fprintln(cmd.OutOrStdout(), "Lease lost.")
				return
			}
		}
	}
}
