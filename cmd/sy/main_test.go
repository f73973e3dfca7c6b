package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/sessionyard/internal/config"
	"github.com/zulandar/sessionyard/internal/sessiondb"
	"github.com/zulandar/sessionyard/internal/store"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "sy dev") {
		t.Errorf("expected output to contain 'sy dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "sy 1.0.0") || !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, sub := range []string{"collect", "search", "stats", "projects", "sessions", "messages", "parse", "writer", "serve", "init"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing %q", sub)
		}
	}
}

// workspace holds a config file pointing at a temporary database and
// transcript root.
type workspace struct {
	config string
	dbPath string
	root   string
	file   string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	t.Setenv(config.EnvDatabase, "")
	dir := t.TempDir()
	ws := &workspace{
		config: filepath.Join(dir, "sessionyard.yaml"),
		dbPath: filepath.Join(dir, "data", "sessions.db"),
		root:   filepath.Join(dir, "projects"),
	}
	cfg := fmt.Sprintf("database:\n  path: %s\nsources:\n  - name: claude\n    root: %s\n", ws.dbPath, ws.root)
	if err := os.WriteFile(ws.config, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	projDir := filepath.Join(ws.root, "-work-app")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ws.file = filepath.Join(projDir, "sess-1234.jsonl")
	lines := `{"type":"user","uuid":"u1","cwd":"/work/app","timestamp":"2025-01-02T03:04:05Z","message":{"role":"user","content":"how do I deploy this"}}
{"type":"assistant","uuid":"a1","cwd":"/work/app","timestamp":"2025-01-02T03:04:09Z","message":{"role":"assistant","model":"claude-x","content":[{"type":"text","text":"run make deploy"}]}}
`
	if err := os.WriteFile(ws.file, []byte(lines), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	return ws
}

func (ws *workspace) run(t *testing.T, args ...string) string {
	t.Helper()
	args = append(args, "--config", ws.config)
	out, err := runCmd(t, args...)
	if err != nil {
		t.Fatalf("sy %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestEndToEnd(t *testing.T) {
	ws := newWorkspace(t)

	out := ws.run(t, "init")
	if !strings.Contains(out, "Database ready at "+ws.dbPath) {
		t.Errorf("init output: %s", out)
	}

	out = ws.run(t, "collect")
	if !strings.Contains(out, "Messages inserted: 2") {
		t.Errorf("collect output: %s", out)
	}
	out = ws.run(t, "collect")
	if !strings.Contains(out, "Messages inserted: 0") {
		t.Errorf("second collect should insert nothing: %s", out)
	}

	var stats store.Stats
	if err := json.Unmarshal([]byte(ws.run(t, "stats", "--json")), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Projects != 1 || stats.Sessions != 1 || stats.Messages != 2 {
		t.Errorf("stats = %+v", stats)
	}

	out = ws.run(t, "search", "deploy")
	if !strings.Contains(out, "deploy") || strings.Contains(out, store.MarkOpen) {
		t.Errorf("search output should contain unmarked matches: %s", out)
	}
	out = ws.run(t, "search", "nonexistentword")
	if !strings.Contains(out, "No matches.") {
		t.Errorf("empty search output: %s", out)
	}

	out = ws.run(t, "projects")
	if !strings.Contains(out, "/work/app") {
		t.Errorf("projects output: %s", out)
	}
	out = ws.run(t, "sessions", "1")
	if !strings.Contains(out, "sess-1234") {
		t.Errorf("sessions output: %s", out)
	}
	out = ws.run(t, "messages", "sess-12")
	if !strings.Contains(out, "how do I deploy this") || !strings.Contains(out, "run make deploy") {
		t.Errorf("messages output: %s", out)
	}

	out = ws.run(t, "writer", "status")
	if !strings.Contains(out, "State:          released") {
		t.Errorf("writer status after collect: %s", out)
	}
	out = ws.run(t, "writer", "release")
	if !strings.Contains(out, "already released") {
		t.Errorf("writer release output: %s", out)
	}
}

func TestCollect_PathFlag(t *testing.T) {
	ws := newWorkspace(t)
	out := ws.run(t, "collect", "--path", ws.file, "--json")
	var res struct {
		MessagesInserted int `json:"messages_inserted"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if res.MessagesInserted != 2 {
		t.Errorf("inserted = %d, want 2", res.MessagesInserted)
	}
}

func TestCollect_FailsWhileAnotherWriterHoldsLease(t *testing.T) {
	ws := newWorkspace(t)
	if err := os.MkdirAll(filepath.Dir(ws.dbPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	holder, err := sessiondb.Open(ws.dbPath, sessiondb.Options{Register: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer holder.Close()

	out, err := runCmd(t, "collect", "--config", ws.config)
	if err == nil {
		t.Fatalf("collect should fail while another writer is alive: %s", out)
	}
	if !strings.Contains(err.Error(), "writer lease is held by "+holder.Lease().HolderID()) {
		t.Errorf("error = %q", err)
	}

	out, err = runCmd(t, "writer", "release", "--config", ws.config)
	if err == nil || !strings.Contains(err.Error(), "is alive") {
		t.Errorf("writer release on a live lease = %v (%s)", err, out)
	}
}

func TestParseCmd(t *testing.T) {
	ws := newWorkspace(t)
	out, err := runCmd(t, "parse", ws.file)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, want := range []string{"Session:  sess-1234", "Project:  app (/work/app)", "Model:    claude-x", "Messages: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("parse output missing %q:\n%s", want, out)
		}
	}

	out, err = runCmd(t, "parse", "--json", ws.file)
	if err != nil {
		t.Fatalf("parse --json: %v", err)
	}
	var sess struct {
		SessionID string `json:"session_id"`
		Messages  []struct {
			UUID string `json:"uuid"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(out), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.SessionID != "sess-1234" || len(sess.Messages) != 2 {
		t.Errorf("parsed = %+v", sess)
	}
}

func TestSessionsCmd_BadID(t *testing.T) {
	ws := newWorkspace(t)
	if _, err := runCmd(t, "sessions", "abc", "--config", ws.config); err == nil {
		t.Error("expected error for non-numeric project id")
	}
}

func TestConfigFlags_MissingExplicitConfig(t *testing.T) {
	_, err := runCmd(t, "stats", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("err = %v, want load config error", err)
	}
}

func TestConfigFlags_DBOverride(t *testing.T) {
	ws := newWorkspace(t)
	other := filepath.Join(t.TempDir(), "other.db")
	out := ws.run(t, "init", "--db", other)
	if !strings.Contains(out, other) {
		t.Errorf("init --db output: %s", out)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("override database not created: %v", err)
	}
}
