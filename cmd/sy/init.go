package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const configTemplate = `# sessionyard configuration
database:
  path: %s
writer_type: cli
lease:
  heartbeat_interval: 10s
  timeout: 30s
sources:
%scollect_schedule: "@every 5m"
watch:
  enabled: false
dashboard:
  port: 8080
notify:
  command: ""
  slack_webhook: ""
`

func newInitCmd() *cobra.Command {
	var (
		flags       configFlags
		writeConfig bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the session database",
		Long:  "Creates the SQLite database, its tables and the full-text index. Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, &flags, writeConfig)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "also write a config file with the effective settings if none exists")
	return cmd
}

func runInit(cmd *cobra.Command, flags *configFlags, writeConfig bool) error {
	out := cmd.OutOrStdout()

	cfg, err := flags.load()
	if err != nil {
		return err
	}
	d, err := openFromConfig(cfg, false)
	if err != nil {
		return err
	}
	defer d.Close()
	fmt.Fprintf(out, "Database ready at %s\n", d.Path())

	if writeConfig {
		if _, err := os.Stat(flags.path); err == nil {
			fmt.Fprintf(out, "Config %s already exists, leaving it alone\n", flags.path)
			return nil
		}
		var sources string
		for _, s := range cfg.Sources {
			sources += fmt.Sprintf("  - name: %s\n    root: %s\n", s.Name, s.Root)
		}
		body := fmt.Sprintf(configTemplate, cfg.Database.Path, sources)
		if err := os.WriteFile(flags.path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Wrote %s\n", flags.path)
	}
	return nil
}
