package transcript

import (
	"io"
	"path/filepath"
	"strings"
)

// Session is a fully parsed transcript file.
type Session struct {
	SessionID   string      `json:"session_id"`
	ProjectPath string      `json:"project_path"`
	ProjectName string      `json:"project_name"`
	Model       string      `json:"model,omitempty"`
	Messages    []Record    `json:"messages"`
	Skipped     int         `json:"skipped"`
	LineErrors  []LineError `json:"line_errors,omitempty"`
}

// SessionIDFromPath returns the file stem, which is the session id for
// transcripts laid out as <dir>/<session-id>.jsonl.
func SessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ProjectName is the last element of a project path.
func ProjectName(projectPath string) string {
	if projectPath == "" {
		return ""
	}
	return filepath.Base(filepath.Clean(projectPath))
}

// Parse reads a whole transcript file. An empty file yields a Session with
// no messages.
func Parse(path string) (*Session, error) {
	r, err := Open(path, Position{}, Options{AcceptUnterminated: true})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var msgs []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, rec)
	}

	meta := r.Meta()
	s := &Session{
		SessionID:   SessionIDFromPath(path),
		ProjectPath: meta.CWD,
		ProjectName: ProjectName(meta.CWD),
		Model:       meta.Model,
		Messages:    msgs,
		Skipped:     r.Skipped(),
		LineErrors:  r.LineErrors(),
	}
	if s.SessionID == "" {
		s.SessionID = meta.SessionID
	}
	return s, nil
}
