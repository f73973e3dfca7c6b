package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/spf13/cobra"
	"github.com/zulandar/sessionyard/internal/collector"
	"github.com/zulandar/sessionyard/internal/config"
	"github.com/zulandar/sessionyard/internal/dashboard"
	"github.com/zulandar/sessionyard/internal/lease"
	"github.com/zulandar/sessionyard/internal/notify"
	"github.com/zulandar/sessionyard/internal/sessiondb"
	"github.com/zulandar/sessionyard/internal/watch"
)

func newServeCmd() *cobra.Command {
	var (
		flags   configFlags
		port    int
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collector daemon and dashboard",
		Long: `Runs until interrupted. The process claims the writer lease if it can and
otherwise stands by, taking over when the current writer releases or times
out. While it is the writer it sweeps on collect_schedule and, if enabled,
ingests files as they change. The dashboard and notifications run in every
role.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Dashboard.Port = port
			}
			if noWatch {
				cfg.Watch.Enabled = false
			}
			return runServe(cmd, cfg)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultDashboardPort, "dashboard port")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable the file watcher")
	return cmd
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	d, err := openFromConfig(cfg, true)
	if err != nil {
		return err
	}
	defer d.Close()
	fmt.Fprintf(out, "Database %s, role %s\n", d.Path(), d.Role())

	ctx, cancel := signalContext(out)
	defer cancel()

	sinks, err := buildSinks(cfg)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if len(sinks) > 0 {
		n := notify.New(sinks, cfg.NotifyEvents()...)
		spawn(func() { n.Run(ctx, d.Events()) })
		fmt.Fprintf(out, "Notifications: %d sink(s)\n", n.Len())
	}

	spawn(func() { d.Standby(ctx, cfg.Lease.HeartbeatInterval) })

	if d.Role() == lease.RoleWriter {
		res, err := d.Collect(ctx)
		if err != nil {
			log.Printf("serve: initial sweep: %v", err)
		} else {
			printResult(out, res)
		}
	}
	spawn(func() {
		err := d.Collector().Schedule(ctx, cfg.CollectSchedule, func(res collector.Result, err error) {
			if err == nil && res.MessagesInserted > 0 {
				log.Printf("serve: scheduled sweep inserted %d messages", res.MessagesInserted)
			}
		})
		if err != nil {
			log.Printf("serve: schedule: %v", err)
		}
	})

	if cfg.Watch.Enabled {
		w, err := startWatcher(d, cfg, out)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		spawn(func() { w.Run(ctx) })
	}

	err = dashboard.Start(ctx, dashboard.StartOpts{
		DB:   d,
		Port: cfg.Dashboard.Port,
		Out:  out,
	})
	cancel()
	wg.Wait()
	return err
}

func buildSinks(cfg *config.Config) ([]notify.Sink, error) {
	var sinks []notify.Sink
	if cfg.Notify.Command != "" {
		sinks = append(sinks, &notify.CommandSink{Command: cfg.Notify.Command})
	}
	if cfg.Notify.SlackWebhook != "" {
		sinks = append(sinks, &notify.SlackSink{URL: cfg.Notify.SlackWebhook})
	}
	if cfg.Notify.Discord.WebhookID != "" {
		s, err := notify.NewDiscordSink(cfg.Notify.Discord.WebhookID, cfg.Notify.Discord.Token)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// startWatcher ingests changed files while this process is the writer.
func startWatcher(d *sessiondb.DB, cfg *config.Config, out io.Writer) (*watch.Watcher, error) {
	roots := make([]string, len(cfg.Sources))
	for i, s := range cfg.Sources {
		roots[i] = s.Root
	}
	handle := func(ctx context.Context, path string) error {
		if d.Role() != lease.RoleWriter {
			return nil
		}
		_, err := d.CollectByPath(ctx, path)
		return err
	}
	w, err := watch.New(roots, handle, watch.Options{
		Debounce: cfg.Watch.Debounce,
		Rate:     cfg.Watch.Rate,
		Burst:    cfg.Watch.Burst,
		Bus:      d.Events(),
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Watching %d directories\n", len(w.Watched()))
	return w, nil
}
