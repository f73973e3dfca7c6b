package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/sessionyard/internal/config"
	"github.com/zulandar/sessionyard/internal/lease"
	"github.com/zulandar/sessionyard/internal/sessiondb"
)

const defaultConfigPath = "sessionyard.yaml"

// configFlags are shared by every command that touches the database.
type configFlags struct {
	path   string
	dbPath string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", defaultConfigPath, "path to sessionyard config file")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "database path (overrides config and "+config.EnvDatabase+")")
}

// load reads the config file. A missing file at the default path falls
// back to built-in defaults.
func (f *configFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.path)
	if err != nil {
		if f.path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
			cfg, err = config.Default()
		}
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if f.dbPath != "" {
		cfg.Database.Path = f.dbPath
	}
	return cfg, nil
}

// openFromConfig opens the database described by cfg. With register set
// the handle tries to become the writer.
func openFromConfig(cfg *config.Config, register bool) (*sessiondb.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	wt, err := lease.ParseWriterType(cfg.WriterType)
	if err != nil {
		return nil, err
	}
	d, err := sessiondb.Open(cfg.Database.Path, sessiondb.Options{
		WriterType: wt,
		Lease:      cfg.LeaseConfig(),
		Sources:    cfg.CollectorSources(),
		LogSQL:     cfg.Database.LogSQL,
		Register:   register,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Database.Path, err)
	}
	return d, nil
}

// connect loads config and opens the database as a reader.
func (f *configFlags) connect() (*config.Config, *sessiondb.DB, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, nil, err
	}
	d, err := openFromConfig(cfg, false)
	if err != nil {
		return nil, nil, err
	}
	return cfg, d, nil
}

// requireWriter fails with a readable message when d lost the race for
// the lease.
func requireWriter(d *sessiondb.DB) error {
	if d.Role() == lease.RoleWriter {
		return nil
	}
	info, err := d.WriterInfo()
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("could not acquire the writer lease")
	}
	return fmt.Errorf("writer lease is held by %s (%s, last heartbeat %s)",
		info.HolderID, info.WriterType, info.Heartbeat.Format(time.RFC3339))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(out io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatMillis renders a millisecond timestamp in local time.
func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func formatMillisPtr(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return formatMillis(*ms)
}

// truncate shortens s to at most n runes, adding "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
