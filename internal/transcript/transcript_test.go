package transcript

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/sessionyard/internal/errs"
)

const claudeLines = `{"type":"summary","summary":"Refactor parser","leafUuid":"x"}
{"type":"user","uuid":"u-1","sessionId":"abc","cwd":"/home/dev/proj","timestamp":"2025-01-02T03:04:05.678Z","message":{"role":"user","content":"find the bug"}}
{"type":"assistant","uuid":"a-1","sessionId":"abc","cwd":"/home/dev/proj","timestamp":"2025-01-02T03:04:06Z","message":{"role":"assistant","model":"claude-sonnet","content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"Looking now."},{"type":"tool_use","id":"t1","name":"Read","input":{"file_path":"main.go"}}]}}
{"type":"user","uuid":"u-2","sessionId":"abc","cwd":"/home/dev/proj","timestamp":"2025-01-02T03:04:07Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"package main"}]}]}}
`

func writeTranscript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, rec)
	}
}

func TestParse_ClaudeShape(t *testing.T) {
	path := writeTranscript(t, "abc.jsonl", claudeLines)
	s, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.SessionID != "abc" {
		t.Errorf("SessionID = %q, want %q", s.SessionID, "abc")
	}
	if s.ProjectPath != "/home/dev/proj" || s.ProjectName != "proj" {
		t.Errorf("project = %q / %q", s.ProjectPath, s.ProjectName)
	}
	if s.Model != "claude-sonnet" {
		t.Errorf("Model = %q", s.Model)
	}
	if s.Skipped != 0 {
		t.Errorf("Skipped = %d, errors %v", s.Skipped, s.LineErrors)
	}
	if len(s.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(s.Messages))
	}

	first := s.Messages[0]
	if first.UUID != "u-1" || first.Role != RoleUser || first.Content != "find the bug" {
		t.Errorf("first = %+v", first)
	}
	if first.Timestamp != 1735787045678 {
		t.Errorf("Timestamp = %d, want 1735787045678", first.Timestamp)
	}
	if first.Sequence != 1 {
		t.Errorf("Sequence = %d, want line index 1", first.Sequence)
	}

	second := s.Messages[1]
	if strings.Contains(second.Content, "hmm") {
		t.Error("thinking blocks should be skipped")
	}
	if !strings.Contains(second.Content, "Looking now.") {
		t.Errorf("text block missing: %q", second.Content)
	}
	if !strings.Contains(second.Content, `[tool_use: Read] {"file_path":"main.go"}`) {
		t.Errorf("tool_use rendering missing: %q", second.Content)
	}
	if second.ToolName != "Read" {
		t.Errorf("ToolName = %q", second.ToolName)
	}

	if s.Messages[2].Content != "package main" {
		t.Errorf("tool_result content = %q", s.Messages[2].Content)
	}
}

func TestParse_GenericShape(t *testing.T) {
	content := `{"uuid":"m1","role":"user","content":"hello","timestamp":1700000000000,"sequence":7}
{"uuid":"m2","role":"assistant","content":"hi","timestamp":"1700000000500"}
{"uuid":"m3","role":"tool","content":"ok","timestamp":"2023-11-14T22:13:21Z"}
`
	s, err := Parse(writeTranscript(t, "gen.jsonl", content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(s.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(s.Messages))
	}
	tests := []struct {
		uuid string
		role Role
		ts   int64
		seq  int64
	}{
		{"m1", RoleUser, 1700000000000, 7},
		{"m2", RoleAssistant, 1700000000500, 1},
		{"m3", RoleTool, 1700000001000, 2},
	}
	for i, tt := range tests {
		m := s.Messages[i]
		if m.UUID != tt.uuid || m.Role != tt.role || m.Timestamp != tt.ts || m.Sequence != tt.seq {
			t.Errorf("message %d = {%s %s %d %d}, want %+v", i, m.UUID, m.Role, m.Timestamp, m.Sequence, tt)
		}
	}
}

func TestParse_EmptyFile(t *testing.T) {
	s, err := Parse(writeTranscript(t, "empty.jsonl", ""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(s.Messages) != 0 {
		t.Errorf("messages = %d, want 0", len(s.Messages))
	}
	if s.SessionID != "empty" {
		t.Errorf("SessionID = %q", s.SessionID)
	}
}

func TestParse_MissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if errs.KindOf(err) != errs.KindRuntime {
		t.Errorf("kind = %q, want %q", errs.KindOf(err), errs.KindRuntime)
	}
}

func TestParse_MalformedLinesAreSoft(t *testing.T) {
	content := `not json
{"uuid":"m1","role":"user","content":"good","timestamp":1}
[1,2,3]
{"uuid":"m2","role":"wizard","content":"bad role","timestamp":2}
{"uuid":"m3","role":"user","content":"bad ts","timestamp":"yesterday"}
{"uuid":"m4","role":"user","content":{"nested":true},"timestamp":3}

{"uuid":"m5","role":"assistant","content":"also good","timestamp":4}
`
	s, err := Parse(writeTranscript(t, "mixed.jsonl", content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(s.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(s.Messages))
	}
	if s.Skipped != 5 {
		t.Errorf("Skipped = %d, want 5 (%v)", s.Skipped, s.LineErrors)
	}
	if len(s.LineErrors) == 0 || s.LineErrors[0].Line != 0 {
		t.Errorf("LineErrors = %v", s.LineErrors)
	}
	if !strings.Contains(s.LineErrors[0].Error(), "line 1") {
		t.Errorf("LineError text = %q", s.LineErrors[0].Error())
	}
	if s.Messages[1].Sequence != 7 {
		t.Errorf("Sequence after blank line = %d, want 7", s.Messages[1].Sequence)
	}
}

func TestDerivedUUIDIsStable(t *testing.T) {
	a := `{"role":"user","content":"no id","timestamp":5}` + "\n"
	b := `{ "timestamp": 5, "content": "no id", "role": "user" }` + "\n"
	sa, err := Parse(writeTranscript(t, "a.jsonl", a))
	if err != nil {
		t.Fatalf("Parse a: %v", err)
	}
	sb, err := Parse(writeTranscript(t, "b.jsonl", b))
	if err != nil {
		t.Fatalf("Parse b: %v", err)
	}
	if len(sa.Messages) != 1 || len(sb.Messages) != 1 {
		t.Fatalf("messages = %d, %d", len(sa.Messages), len(sb.Messages))
	}
	if !strings.HasPrefix(sa.Messages[0].UUID, "sha256:") {
		t.Errorf("UUID = %q, want sha256 digest", sa.Messages[0].UUID)
	}
	if sa.Messages[0].UUID != sb.Messages[0].UUID {
		t.Errorf("digests differ: %q vs %q", sa.Messages[0].UUID, sb.Messages[0].UUID)
	}
}

func TestReader_ResumeAndPartialLine(t *testing.T) {
	path := writeTranscript(t, "s.jsonl",
		`{"uuid":"m1","role":"user","content":"one","timestamp":1}`+"\n"+
			`{"uuid":"m2","role":"user","con`)

	r, err := Open(path, Position{}, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := readAll(t, r)
	pos := r.Position()
	r.Close()
	if len(got) != 1 || got[0].UUID != "m1" {
		t.Fatalf("first pass = %+v", got)
	}
	if pos.Line != 1 {
		t.Errorf("Line = %d, want 1", pos.Line)
	}

	// Finish the partial line and append another.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	f.WriteString(`tent":"two","timestamp":2}` + "\n" + `{"uuid":"m3","role":"assistant","content":"three","timestamp":3}` + "\n")
	f.Close()

	r, err = Open(path, pos, Options{})
	if err != nil {
		t.Fatalf("Open at %+v: %v", pos, err)
	}
	defer r.Close()
	got = readAll(t, r)
	if len(got) != 2 || got[0].UUID != "m2" || got[1].UUID != "m3" {
		t.Fatalf("resumed = %+v", got)
	}
	if got[0].Sequence != 1 || got[1].Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", got[0].Sequence, got[1].Sequence)
	}
	info, _ := os.Stat(path)
	if r.Position().Offset != info.Size() {
		t.Errorf("Offset = %d, want %d", r.Position().Offset, info.Size())
	}
}

func TestOpen_OffsetPastEnd(t *testing.T) {
	path := writeTranscript(t, "short.jsonl", "{}\n")
	_, err := Open(path, Position{Offset: 100}, Options{})
	if !errors.Is(err, errs.KindInvalidInput) {
		t.Errorf("Open past end = %v, want invalid input", err)
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"user", "Assistant", " system ", "tool"} {
		if _, err := ParseRole(s); err != nil {
			t.Errorf("ParseRole(%q): %v", s, err)
		}
	}
	if _, err := ParseRole("human"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestProjectName(t *testing.T) {
	tests := map[string]string{
		"/home/dev/proj":  "proj",
		"/home/dev/proj/": "proj",
		"":                "",
	}
	for in, want := range tests {
		if got := ProjectName(in); got != want {
			t.Errorf("ProjectName(%q) = %q, want %q", in, got, want)
		}
	}
}
