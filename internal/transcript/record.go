// Package transcript reads agent session transcripts: append-only JSONL
// files with one JSON object per line. It understands a generic
// {uuid, role, content, timestamp, sequence} shape and the Claude Code
// shape where the message sits under "message" with block content.
package transcript

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
	"github.com/tidwall/gjson"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Record is one message line.
type Record struct {
	UUID      string `json:"uuid"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // ms
	Sequence  int64  `json:"sequence"`
	Model     string `json:"model,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	SessionID string `json:"session_id,omitempty"` // sessionId embedded in the line, if any
	CWD       string `json:"cwd,omitempty"`
	Raw       string `json:"-"`
	Line      int64  `json:"line"` // zero-based line index in the file
}

// Position is a resumable point in a transcript file.
type Position struct {
	Offset int64 // bytes
	Line   int64 // lines consumed
}

// LineError describes a line that was skipped.
type LineError struct {
	Line int64  `json:"line"`
	Err  string `json:"error"`
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line+1, e.Err)
}

// messageTypes are the "type" values that carry a message. Lines with any
// other non-empty type are metadata and are ignored.
var messageTypes = map[string]bool{
	"":          true,
	"message":   true,
	"user":      true,
	"assistant": true,
	"system":    true,
	"tool":      true,
}

//go:embed line.schema.json
var lineSchemaJSON []byte

var lineSchema = mustCompileSchema(lineSchemaJSON)

func mustCompileSchema(data []byte) *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile(data)
	if err != nil {
		panic(fmt.Sprintf("transcript: compile line schema: %v", err))
	}
	return schema
}

// lineMeta is session-level metadata some lines carry.
type lineMeta struct {
	sessionID string
	cwd       string
	model     string
}

// parseLine decodes one trimmed, non-empty line. ok is false for valid
// lines that carry no message.
func parseLine(line []byte, index int64) (rec Record, meta lineMeta, ok bool, err error) {
	if !gjson.ValidBytes(line) {
		return Record{}, lineMeta{}, false, fmt.Errorf("invalid json")
	}
	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return Record{}, lineMeta{}, false, fmt.Errorf("not a json object")
	}

	meta = lineMeta{
		sessionID: root.Get("sessionId").String(),
		cwd:       root.Get("cwd").String(),
		model:     firstString(root, "message.model", "model"),
	}

	typ := root.Get("type").String()
	if !messageTypes[typ] {
		return Record{}, meta, false, nil
	}
	if !root.Get("message").Exists() && !root.Get("content").Exists() && typ != "" {
		// e.g. a system line that only carries a subtype
		return Record{}, meta, false, nil
	}
	if res := lineSchema.ValidateJSON(line); !res.IsValid() {
		return Record{}, meta, false, fmt.Errorf("schema: %v", res.Errors)
	}

	role, err := ParseRole(firstString(root, "message.role", "role", "type"))
	if err != nil {
		return Record{}, meta, false, err
	}

	content := root.Get("message.content")
	if !content.Exists() {
		content = root.Get("content")
	}
	text, toolName := renderContent(content)
	if text == "" {
		return Record{}, meta, false, nil
	}

	ts, err := parseTimestamp(root.Get("timestamp"))
	if err != nil {
		return Record{}, meta, false, err
	}

	seq := index
	if s := root.Get("sequence"); s.Exists() {
		seq = s.Int()
	}

	uuid := root.Get("uuid").String()
	if uuid == "" {
		uuid, err = digestLine(line)
		if err != nil {
			return Record{}, meta, false, err
		}
	}

	return Record{
		UUID:      uuid,
		Role:      role,
		Content:   text,
		Timestamp: ts,
		Sequence:  seq,
		Model:     meta.model,
		ToolName:  toolName,
		SessionID: meta.sessionID,
		CWD:       meta.cwd,
		Raw:       string(line),
		Line:      index,
	}, meta, true, nil
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// renderContent flattens string or block content into searchable text.
// The first tool_use name is returned alongside.
func renderContent(content gjson.Result) (text, toolName string) {
	if content.Type == gjson.String {
		return content.Str, ""
	}
	if !content.IsArray() {
		return "", ""
	}

	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "thinking", "redacted_thinking":
		case "tool_use":
			name := block.Get("name").String()
			if toolName == "" {
				toolName = name
			}
			part := "[tool_use: " + name + "]"
			if input := block.Get("input"); input.Exists() {
				part += " " + input.Raw
			}
			parts = append(parts, part)
		case "tool_result":
			if t, _ := renderContent(block.Get("content")); t != "" {
				parts = append(parts, t)
			}
		default:
			if t := block.Get("text").String(); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})
	return strings.Join(parts, "\n"), toolName
}

// parseTimestamp accepts milliseconds as a number or numeric string, or an
// RFC 3339 string. A missing timestamp is 0.
func parseTimestamp(v gjson.Result) (int64, error) {
	switch v.Type {
	case gjson.Null:
		return 0, nil
	case gjson.Number:
		return v.Int(), nil
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ms, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", v.Str)
		}
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid timestamp %s", v.Raw)
}

// digestLine derives a stable id for a line without a uuid from its
// RFC 8785 canonical form, so key order and whitespace do not matter.
func digestLine(line []byte) (string, error) {
	canonical, err := jcs.Transform(bytes.TrimSpace(line))
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
