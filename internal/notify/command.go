package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandSink runs a shell command for each message, e.g.
// "notify-send 'sessionyard' '{{.Title}}: {{.Body}}'".
type CommandSink struct {
	Command string
}

func (c *CommandSink) Name() string { return "command" }

// Deliver expands the template and runs it with sh -c.
func (c *CommandSink) Deliver(ctx context.Context, msg Message) error {
	if c.Command == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", templateCommand(c.Command, msg))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// templateCommand replaces placeholders in the command template with
// message values.
func templateCommand(command string, msg Message) string {
	e := msg.Event
	project := ""
	if e.ProjectID != 0 {
		project = strconv.FormatInt(e.ProjectID, 10)
	}
	r := strings.NewReplacer(
		"{{.Type}}", string(e.Type),
		"{{.Title}}", msg.Title,
		"{{.Body}}", msg.Body,
		"{{.Session}}", e.SessionID,
		"{{.Project}}", project,
		"{{.Path}}", e.Path,
		"{{.Role}}", e.Role,
		"{{.Count}}", strconv.Itoa(e.Count),
	)
	return r.Replace(command)
}
