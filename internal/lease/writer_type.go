package lease

import "fmt"

// WriterType identifies the kind of process holding or seeking the lease.
type WriterType string

const (
	TypeMemexDaemon  WriterType = "memex_daemon"
	TypeVlaudeDaemon WriterType = "vlaude_daemon"
	TypeMemexKit     WriterType = "memex_kit"
	TypeVlaudeKit    WriterType = "vlaude_kit"
	TypeCLI          WriterType = "cli"
)

// Priority is recorded on the lease row for diagnostics. It never lets a
// process preempt an Alive holder.
func (w WriterType) Priority() int {
	switch w {
	case TypeVlaudeKit:
		return 3
	case TypeMemexKit:
		return 2
	case TypeMemexDaemon, TypeVlaudeDaemon:
		return 1
	}
	return 0
}

// ParseWriterType validates a writer type name. Empty means TypeCLI.
func ParseWriterType(s string) (WriterType, error) {
	switch w := WriterType(s); w {
	case "":
		return TypeCLI, nil
	case TypeMemexDaemon, TypeVlaudeDaemon, TypeMemexKit, TypeVlaudeKit, TypeCLI:
		return w, nil
	}
	return "", fmt.Errorf("lease: unknown writer type %q", s)
}
