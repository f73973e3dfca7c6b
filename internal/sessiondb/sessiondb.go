// Package sessiondb is the handle applications use: it owns the database
// connection, this process's writer lease and its heartbeat, and exposes
// every storage, search and ingestion operation. Reads work in any role;
// writes require the writer lease.
package sessiondb

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/zulandar/sessionyard/internal/collector"
	"github.com/zulandar/sessionyard/internal/db"
	"github.com/zulandar/sessionyard/internal/errs"
	"github.com/zulandar/sessionyard/internal/events"
	"github.com/zulandar/sessionyard/internal/lease"
	"github.com/zulandar/sessionyard/internal/models"
	"github.com/zulandar/sessionyard/internal/store"
	"github.com/zulandar/sessionyard/internal/transcript"
	"gorm.io/gorm"
)

// Options configures Open.
type Options struct {
	WriterType lease.WriterType
	Lease      lease.Config
	Sources    []collector.Source
	Decoder    collector.DirDecoder
	Bus        *events.Bus // created when nil
	LogSQL     bool
	// Register tries to claim the writer lease on open. Losing the race
	// to a live writer is not an error; the handle stays a reader.
	Register bool
}

// DB is an open session database.
type DB struct {
	path      string
	gorm      *gorm.DB
	lease     *lease.Manager
	collector *collector.Collector
	bus       *events.Bus

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	heartbeat *heartbeat
	closed    bool
}

type heartbeat struct {
	cancel context.CancelFunc
}

// Open connects to (creating if needed) the database at path and
// migrates its schema.
func Open(path string, opts Options) (*DB, error) {
	if err := requireString("database path", path); err != nil {
		return nil, err
	}
	if err := opts.Lease.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.KindInvalidInput, "sessiondb: open")
	}

	gormDB, err := db.Connect(path, db.ConnectOpts{LogSQL: opts.LogSQL})
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "sessiondb: open")
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		db.Close(gormDB)
		return nil, errs.Wrap(err, errs.KindDatabase, "sessiondb: open")
	}

	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	mgr := lease.NewManager(gormDB, opts.WriterType, opts.Lease, bus)
	ctx, cancel := context.WithCancel(context.Background())
	d := &DB{
		path:  path,
		gorm:  gormDB,
		lease: mgr,
		collector: collector.New(gormDB, mgr, collector.Options{
			Sources: opts.Sources,
			Decoder: opts.Decoder,
			Bus:     bus,
			Active:  func() bool { return mgr.Role() == lease.RoleWriter },
		}),
		bus:    bus,
		ctx:    ctx,
		cancel: cancel,
	}

	if opts.Register {
		if _, err := d.RegisterWriter(opts.WriterType); err != nil && errs.KindOf(err) != errs.KindCoordination {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

// Close stops the heartbeat, releases the lease if held and closes the
// connection. It is safe to call more than once.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.stopHeartbeat()
	d.cancel()
	if d.lease.Role() == lease.RoleWriter {
		if err := d.lease.Release(); err != nil {
			log.Printf("sessiondb: release on close: %v", err)
		}
	}
	return db.Close(d.gorm)
}

// Path is the database file path.
func (d *DB) Path() string { return d.path }

// Gorm exposes the connection for read-only consumers such as the
// dashboard.
func (d *DB) Gorm() *gorm.DB { return d.gorm }

// Events is the bus this handle publishes lease and ingestion events on.
func (d *DB) Events() *events.Bus { return d.bus }

// Lease returns the lease manager.
func (d *DB) Lease() *lease.Manager { return d.lease }

// --- writer coordination ---

// RegisterWriter claims the writer role and starts heartbeating. It fails
// with a coordination error while another process holds a live lease.
func (d *DB) RegisterWriter(hint lease.WriterType) (lease.Role, error) {
	role, err := d.lease.Register(hint)
	if err != nil {
		return role, err
	}
	d.startHeartbeat()
	return role, nil
}

// Heartbeat refreshes the lease now, outside the background ticker.
func (d *DB) Heartbeat() error {
	err := d.lease.Heartbeat()
	if err != nil {
		d.stopHeartbeat()
	}
	return err
}

// ReleaseWriter stops heartbeating and gives the lease up.
func (d *DB) ReleaseWriter() error {
	d.stopHeartbeat()
	return d.lease.Release()
}

// CheckWriterHealth reports the state of the current lease.
func (d *DB) CheckWriterHealth() (lease.Health, error) {
	return d.lease.CheckHealth()
}

// TryTakeover claims a timed-out lease. On success the handle starts
// heartbeating as the new writer.
func (d *DB) TryTakeover() (bool, error) {
	ok, err := d.lease.TryTakeover()
	if err != nil || !ok {
		return ok, err
	}
	d.startHeartbeat()
	return true, nil
}

// Role is this handle's current role.
func (d *DB) Role() lease.Role { return d.lease.Role() }

// WriterInfo returns the lease row, or nil if no writer ever registered.
func (d *DB) WriterInfo() (*lease.Info, error) { return d.lease.Current() }

func (d *DB) startHeartbeat() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.heartbeat != nil || d.closed {
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	hb := &heartbeat{cancel: cancel}
	d.heartbeat = hb
	errCh := d.lease.StartHeartbeat(ctx, 0)

	go func() {
		select {
		case <-ctx.Done():
		case err := <-errCh:
			log.Printf("sessiondb: heartbeat stopped: %v", err)
			d.mu.Lock()
			if d.heartbeat == hb {
				d.heartbeat = nil
			}
			d.mu.Unlock()
			cancel()
		}
	}()
}

func (d *DB) stopHeartbeat() {
	d.mu.Lock()
	hb := d.heartbeat
	d.heartbeat = nil
	d.mu.Unlock()
	if hb != nil {
		hb.cancel()
	}
}

// write runs fn in a transaction that first checks this handle still
// holds a live writer lease.
func (d *DB) write(fn func(tx *gorm.DB) error) error {
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := d.lease.Fence(tx); err != nil {
			return err
		}
		return fn(tx)
	})
}

// --- input validation ---

func requireString(field, v string) error {
	if !utf8.ValidString(v) {
		return errs.New(errs.KindInvalidUTF8, fmt.Sprintf("sessiondb: %s is not valid UTF-8", field))
	}
	if strings.TrimSpace(v) == "" {
		return errs.New(errs.KindInvalidInput, fmt.Sprintf("sessiondb: %s is required", field))
	}
	return nil
}

func checkUTF8(field, v string) error {
	if !utf8.ValidString(v) {
		return errs.New(errs.KindInvalidUTF8, fmt.Sprintf("sessiondb: %s is not valid UTF-8", field))
	}
	return nil
}

// --- storage ---

// GetStats returns database-wide totals.
func (d *DB) GetStats() (store.Stats, error) {
	return store.GetStats(d.gorm)
}

// UpsertProject creates or refreshes a project and returns its id.
func (d *DB) UpsertProject(name, path, source string) (int64, error) {
	if err := requireString("project name", name); err != nil {
		return 0, err
	}
	if err := requireString("project path", path); err != nil {
		return 0, err
	}
	if err := checkUTF8("source", source); err != nil {
		return 0, err
	}
	var id int64
	err := d.write(func(tx *gorm.DB) error {
		p, err := store.UpsertProject(tx, name, path, source, "")
		if err != nil {
			return err
		}
		id = p.ID
		return nil
	})
	return id, err
}

// ListProjects returns all projects, most recently updated first.
func (d *DB) ListProjects() ([]store.ProjectSummary, error) {
	return store.ListProjects(d.gorm)
}

// UpsertSession creates a session under projectID or moves it there.
func (d *DB) UpsertSession(sessionID string, projectID int64) (*models.Session, error) {
	if err := requireString("session id", sessionID); err != nil {
		return nil, err
	}
	var s *models.Session
	err := d.write(func(tx *gorm.DB) error {
		if _, err := store.GetProject(tx, projectID); err != nil {
			return err
		}
		var err error
		s, err = store.UpsertSession(tx, store.SessionInput{SessionID: sessionID, ProjectID: projectID})
		return err
	})
	return s, err
}

// GetSession loads a session by its full id.
func (d *DB) GetSession(sessionID string) (*models.Session, error) {
	if err := requireString("session id", sessionID); err != nil {
		return nil, err
	}
	return store.GetSession(d.gorm, sessionID)
}

// ListSessions returns a project's sessions.
func (d *DB) ListSessions(projectID int64) ([]models.Session, error) {
	return store.ListSessions(d.gorm, projectID)
}

// GetScanCheckpoint returns the newest message timestamp stored for a
// session, or nil.
func (d *DB) GetScanCheckpoint(sessionID string) (*int64, error) {
	if err := requireString("session id", sessionID); err != nil {
		return nil, err
	}
	return store.GetScanCheckpoint(d.gorm, sessionID)
}

// UpdateSessionLastMessage raises a session's last_message_at.
func (d *DB) UpdateSessionLastMessage(sessionID string, ts int64) error {
	if err := requireString("session id", sessionID); err != nil {
		return err
	}
	return d.write(func(tx *gorm.DB) error {
		return store.UpdateSessionLastMessage(tx, sessionID, ts)
	})
}

// InsertMessages stores messages for an existing session, skipping uuids
// already present, and returns how many were new.
func (d *DB) InsertMessages(sessionID string, msgs []store.MessageInput) (int, error) {
	if err := requireString("session id", sessionID); err != nil {
		return 0, err
	}
	for i := range msgs {
		m := &msgs[i]
		if err := requireString("message uuid", m.UUID); err != nil {
			return 0, err
		}
		if err := checkUTF8("message content", m.Content); err != nil {
			return 0, err
		}
		role, err := transcript.ParseRole(m.Role)
		if err != nil {
			return 0, errs.Wrap(err, errs.KindInvalidInput, "sessiondb: message role")
		}
		m.Role = string(role)
	}

	var res store.InsertResult
	var projectID int64
	err := d.write(func(tx *gorm.DB) error {
		s, err := store.GetSession(tx, sessionID)
		if err != nil {
			return err
		}
		projectID = s.ProjectID
		res, err = store.InsertMessages(tx, sessionID, msgs)
		return err
	})
	if err != nil {
		return 0, err
	}
	if res.Inserted > 0 {
		d.bus.Publish(events.Event{
			Type:      events.TypeMessagesInserted,
			SessionID: sessionID,
			ProjectID: projectID,
			Count:     res.Inserted,
		})
	}
	return res.Inserted, nil
}

// ListMessages pages through a session's messages in sequence order.
func (d *DB) ListMessages(sessionID string, limit, offset int) ([]models.Message, error) {
	if err := requireString("session id", sessionID); err != nil {
		return nil, err
	}
	return store.ListMessages(d.gorm, sessionID, store.ListOptions{Limit: limit, Offset: offset})
}

// ResolveSessionID expands a unique session id prefix.
func (d *DB) ResolveSessionID(prefix string) (string, error) {
	if err := checkUTF8("session prefix", prefix); err != nil {
		return "", err
	}
	return store.ResolveSessionID(d.gorm, prefix)
}

// SearchFTS runs a full-text search over message content.
func (d *DB) SearchFTS(opts store.SearchOptions) ([]store.SearchResult, error) {
	if err := checkUTF8("query", opts.Query); err != nil {
		return nil, err
	}
	return store.Search(d.gorm, opts)
}

// --- ingestion ---

// ParseJSONL parses a transcript file without touching the database.
func (d *DB) ParseJSONL(path string) (*transcript.Session, error) {
	if err := requireString("path", path); err != nil {
		return nil, err
	}
	return transcript.Parse(path)
}

// Collect sweeps every configured source into the database.
func (d *DB) Collect(ctx context.Context) (collector.Result, error) {
	return d.collector.Collect(ctx)
}

// CollectByPath ingests one transcript file.
func (d *DB) CollectByPath(ctx context.Context, path string) (collector.Result, error) {
	if err := requireString("path", path); err != nil {
		return collector.Result{}, err
	}
	return d.collector.CollectByPath(ctx, path)
}

// Collector exposes the collector for scheduling.
func (d *DB) Collector() *collector.Collector { return d.collector }
