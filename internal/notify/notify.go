// Package notify delivers selected events from the core's event bus to
// humans: a shell command, a Slack incoming webhook or a Discord webhook.
// Delivery is best-effort. Failures are logged and never reach the core.
package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/zulandar/sessionyard/internal/events"
)

// DefaultTimeout bounds a single delivery to one sink.
const DefaultTimeout = 10 * time.Second

// Colors used for message accents.
const (
	ColorInfo    = "#439fe0"
	ColorWarning = "#f0ad4e"
	ColorDanger  = "#d9534f"
	ColorGood    = "#36a64f"
)

// Field is a labelled value shown alongside a message.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Message is a sink-independent rendering of an event.
type Message struct {
	Event  events.Event
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Text is the plain-text form used where a sink has no rich layout.
func (m Message) Text() string {
	if m.Body == "" {
		return m.Title
	}
	return m.Title + ": " + m.Body
}

// Sink receives rendered messages.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// DefaultTypes are the events worth interrupting a human for.
var DefaultTypes = []events.Type{
	events.TypeRoleChanged,
	events.TypeLeaseLost,
	events.TypeTakeover,
	events.TypeCollectCompleted,
}

// Format renders an event. It returns false for events that carry nothing
// worth sending, such as a sweep that inserted nothing and failed nowhere.
func Format(e events.Event) (Message, bool) {
	msg := Message{Event: e}
	switch e.Type {
	case events.TypeRoleChanged:
		msg.Title = "Writer role changed"
		msg.Body = "this process is now a " + e.Role
		if e.Detail != "" {
			msg.Body += " (" + e.Detail + ")"
		}
		msg.Color = ColorInfo
	case events.TypeLeaseLost:
		msg.Title = "Writer lease lost"
		msg.Body = "another process took over the lease held by " + e.Detail
		msg.Color = ColorDanger
	case events.TypeTakeover:
		msg.Title = "Writer lease taken over"
		msg.Body = "holder " + e.Detail + " claimed a timed-out lease"
		msg.Color = ColorWarning
	case events.TypeCollectCompleted:
		if e.Count == 0 && e.Errors == 0 {
			return msg, false
		}
		msg.Title = "Collection finished"
		msg.Color = ColorGood
		if e.Errors > 0 {
			msg.Title = "Collection finished with errors"
			msg.Color = ColorWarning
			msg.Body = e.Detail
		}
		msg.Fields = []Field{
			{Name: "Messages", Value: strconv.Itoa(e.Count), Short: true},
			{Name: "Errors", Value: strconv.Itoa(e.Errors), Short: true},
		}
	case events.TypeMessagesInserted:
		if e.Count == 0 {
			return msg, false
		}
		msg.Title = "New messages"
		msg.Body = fmt.Sprintf("%d new in session %s", e.Count, e.SessionID)
		msg.Color = ColorInfo
	case events.TypeFileChanged:
		msg.Title = "Transcript changed"
		msg.Body = e.Path
		msg.Color = ColorInfo
	default:
		return msg, false
	}
	return msg, true
}

// Notifier fans bus events out to sinks.
type Notifier struct {
	sinks   []Sink
	types   []events.Type
	timeout time.Duration
}

// New creates a notifier. With no types it forwards DefaultTypes.
func New(sinks []Sink, types ...events.Type) *Notifier {
	if len(types) == 0 {
		types = DefaultTypes
	}
	return &Notifier{sinks: sinks, types: types, timeout: DefaultTimeout}
}

// Len is the number of configured sinks.
func (n *Notifier) Len() int { return len(n.sinks) }

// Run subscribes to bus and delivers until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context, bus *events.Bus) {
	if len(n.sinks) == 0 {
		return
	}
	sub := bus.Subscribe(0, n.types...)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			n.Dispatch(ctx, e)
		}
	}
}

// Dispatch formats e and hands it to every sink in turn.
func (n *Notifier) Dispatch(ctx context.Context, e events.Event) {
	msg, ok := Format(e)
	if !ok {
		return
	}
	for _, s := range n.sinks {
		dctx, cancel := context.WithTimeout(ctx, n.timeout)
		if err := s.Deliver(dctx, msg); err != nil {
			log.Printf("notify: %s: %v", s.Name(), err)
		}
		cancel()
	}
}
