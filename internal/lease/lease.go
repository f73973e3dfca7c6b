// Package lease arbitrates the writer role between processes sharing one
// database. The arbitration state is a single row in writer_leases; every
// transition is one conditional statement so SQLite's write serialization
// makes it atomic across processes.
package lease

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/sessionyard/internal/errs"
	"github.com/zulandar/sessionyard/internal/events"
	"github.com/zulandar/sessionyard/internal/models"
	"gorm.io/gorm"
)

// Default lease timings.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultTimeout           = 30 * time.Second
)

// Lease row states.
const (
	StateActive   = "active"
	StateReleased = "released"
)

var (
	// ErrLeaseHeld is returned by Register while another process holds an
	// Alive lease.
	ErrLeaseHeld = errs.New(errs.KindCoordination, "writer lease held by another process")
	// ErrLeaseLost is returned when this process no longer owns the lease,
	// or its lease has lapsed, at the moment it tries to use it.
	ErrLeaseLost = errs.New(errs.KindCoordination, "writer lease lost")
)

// Role is this process's relationship to the lease.
type Role string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
)

// Health is the computed state of the lease as seen from the database.
type Health string

const (
	HealthAlive    Health = "alive"
	HealthTimeout  Health = "timeout"
	HealthReleased Health = "released"
)

// Config holds lease timings. Now is overridable for tests.
type Config struct {
	HeartbeatInterval time.Duration
	Timeout           time.Duration
	Now               func() time.Time
}

// Validate checks that heartbeats can keep a lease alive.
func (c Config) Validate() error {
	if c.Timeout < 0 || c.HeartbeatInterval < 0 {
		return fmt.Errorf("lease: durations must not be negative")
	}
	interval, timeout := c.withDefaults()
	if interval >= timeout {
		return fmt.Errorf("lease: heartbeat interval %s must be shorter than timeout %s", interval, timeout)
	}
	return nil
}

func (c Config) withDefaults() (interval, timeout time.Duration) {
	interval, timeout = c.HeartbeatInterval, c.Timeout
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return interval, timeout
}

// Info is a snapshot of the lease row.
type Info struct {
	HolderID     string    `json:"holder_id"`
	WriterType   string    `json:"writer_type"`
	Priority     int       `json:"priority"`
	State        string    `json:"state"`
	Heartbeat    time.Time `json:"heartbeat"`
	RegisteredAt time.Time `json:"registered_at"`
	LastWriteAt  time.Time `json:"last_write_at"`
}

// Manager is one process's view of the writer lease.
type Manager struct {
	db         *gorm.DB
	holderID   string
	writerType WriterType
	interval   time.Duration
	timeout    time.Duration
	now        func() time.Time
	bus        *events.Bus

	mu   sync.Mutex
	role Role
}

// NewManager creates a manager with a fresh holder identity. The process
// starts as a reader.
func NewManager(db *gorm.DB, writerType WriterType, cfg Config, bus *events.Bus) *Manager {
	interval, timeout := cfg.withDefaults()
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if writerType == "" {
		writerType = TypeCLI
	}
	return &Manager{
		db:         db,
		holderID:   uuid.NewString(),
		writerType: writerType,
		interval:   interval,
		timeout:    timeout,
		now:        now,
		bus:        bus,
		role:       RoleReader,
	}
}

// HolderID is the identity this manager writes into the lease row.
func (m *Manager) HolderID() string { return m.holderID }

// Timeout is the heartbeat age after which the lease may be taken over.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// HeartbeatInterval is the configured heartbeat period.
func (m *Manager) HeartbeatInterval() time.Duration { return m.interval }

// Role returns the last role this manager observed for itself.
func (m *Manager) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

func (m *Manager) setRole(r Role, detail string) {
	m.mu.Lock()
	changed := m.role != r
	m.role = r
	m.mu.Unlock()
	if changed {
		m.bus.Publish(events.Event{Type: events.TypeRoleChanged, Role: string(r), Detail: detail})
	}
}

func (m *Manager) cutoff(now time.Time) int64 {
	return now.UnixMilli() - m.timeout.Milliseconds()
}

// Register claims the writer role. It succeeds when no lease row exists,
// the lease is released or timed out, or this manager already holds it.
// While another holder is Alive it fails with ErrLeaseHeld.
func (m *Manager) Register(hint WriterType) (Role, error) {
	if hint == "" {
		hint = m.writerType
	}
	now := m.now()
	ms := now.UnixMilli()

	result := m.db.Exec(`
		INSERT INTO writer_leases (id, holder_id, writer_type, priority, state, heartbeat, registered_at, last_write_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			holder_id = excluded.holder_id,
			writer_type = excluded.writer_type,
			priority = excluded.priority,
			state = excluded.state,
			heartbeat = excluded.heartbeat,
			registered_at = CASE WHEN writer_leases.holder_id = excluded.holder_id
				THEN writer_leases.registered_at ELSE excluded.registered_at END
		WHERE writer_leases.holder_id = excluded.holder_id
			OR writer_leases.holder_id = ''
			OR writer_leases.state <> ?
			OR writer_leases.heartbeat <= ?`,
		models.WriterLeaseID, m.holderID, string(hint), hint.Priority(), StateActive, ms, ms,
		StateActive, m.cutoff(now),
	)
	if result.Error != nil {
		return m.Role(), errs.Wrap(result.Error, errs.KindDatabase, "lease: register")
	}
	if result.RowsAffected == 0 {
		info, err := m.Current()
		if err != nil || info == nil {
			return m.Role(), fmt.Errorf("lease: register: %w", ErrLeaseHeld)
		}
		return m.Role(), fmt.Errorf("lease: register: %w (holder %s, type %s)", ErrLeaseHeld, info.HolderID, info.WriterType)
	}

	m.writerType = hint
	m.setRole(RoleWriter, "registered")
	return RoleWriter, nil
}

// Heartbeat refreshes the lease timestamp. If another process has taken
// the lease over, it fails with ErrLeaseLost and the manager drops to
// reader.
func (m *Manager) Heartbeat() error {
	result := m.db.Model(&models.WriterLease{}).
		Where("id = ? AND holder_id = ? AND state = ?", models.WriterLeaseID, m.holderID, StateActive).
		Update("heartbeat", m.now().UnixMilli())
	if result.Error != nil {
		return errs.Wrap(result.Error, errs.KindDatabase, "lease: heartbeat")
	}
	if result.RowsAffected == 0 {
		if m.Role() == RoleWriter {
			m.bus.Publish(events.Event{Type: events.TypeLeaseLost, Detail: m.holderID})
		}
		m.setRole(RoleReader, "lease lost")
		return fmt.Errorf("lease: heartbeat: %w", ErrLeaseLost)
	}
	return nil
}

// Release gives the lease up so the next Register succeeds immediately.
// Releasing a lease this manager does not hold is a no-op.
func (m *Manager) Release() error {
	result := m.db.Model(&models.WriterLease{}).
		Where("id = ? AND holder_id = ?", models.WriterLeaseID, m.holderID).
		Updates(map[string]interface{}{
			"holder_id": "",
			"state":     StateReleased,
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, errs.KindDatabase, "lease: release")
	}
	m.setRole(RoleReader, "released")
	return nil
}

// CheckHealth reports whether the current lease is alive, timed out, or
// released. It is computed from the stored heartbeat on every call.
func (m *Manager) CheckHealth() (Health, error) {
	var lease models.WriterLease
	err := m.db.Where("id = ?", models.WriterLeaseID).First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return HealthReleased, nil
	}
	if err != nil {
		return "", errs.Wrap(err, errs.KindDatabase, "lease: check health")
	}
	return m.healthOf(lease, m.now()), nil
}

func (m *Manager) healthOf(lease models.WriterLease, now time.Time) Health {
	if lease.HolderID == "" || lease.State != StateActive {
		return HealthReleased
	}
	if now.UnixMilli()-lease.Heartbeat < m.timeout.Milliseconds() {
		return HealthAlive
	}
	return HealthTimeout
}

// TryTakeover claims a timed-out lease. The timeout is re-checked inside
// the UPDATE itself, so a heartbeat committed after the caller observed
// Timeout makes the takeover match no row and return false.
func (m *Manager) TryTakeover() (bool, error) {
	now := m.now()
	ms := now.UnixMilli()
	result := m.db.Model(&models.WriterLease{}).
		Where("id = ? AND state = ? AND holder_id <> '' AND heartbeat <= ?",
			models.WriterLeaseID, StateActive, m.cutoff(now)).
		Updates(map[string]interface{}{
			"holder_id":     m.holderID,
			"writer_type":   string(m.writerType),
			"priority":      m.writerType.Priority(),
			"heartbeat":     ms,
			"registered_at": ms,
		})
	if result.Error != nil {
		return false, errs.Wrap(result.Error, errs.KindDatabase, "lease: takeover")
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	m.bus.Publish(events.Event{Type: events.TypeTakeover, Detail: m.holderID})
	m.setRole(RoleWriter, "takeover")
	return true, nil
}

// Fence must run inside a write transaction before anything is mutated.
// It re-validates that this manager still holds an Alive lease at that
// instant and stamps last_write_at. A writer that was taken over, or whose
// heartbeat lapsed, gets ErrLeaseLost and the transaction should roll back.
func (m *Manager) Fence(tx *gorm.DB) error {
	now := m.now()
	result := tx.Model(&models.WriterLease{}).
		Where("id = ? AND holder_id = ? AND state = ? AND heartbeat > ?",
			models.WriterLeaseID, m.holderID, StateActive, m.cutoff(now)).
		Update("last_write_at", now.UnixMilli())
	if result.Error != nil {
		return errs.Wrap(result.Error, errs.KindDatabase, "lease: fence")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("lease: fence: %w", ErrLeaseLost)
	}
	return nil
}

// Current returns the lease row, or nil when none has ever been written.
func (m *Manager) Current() (*Info, error) {
	var lease models.WriterLease
	err := m.db.Where("id = ?", models.WriterLeaseID).First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "lease: current")
	}
	return &Info{
		HolderID:     lease.HolderID,
		WriterType:   lease.WriterType,
		Priority:     lease.Priority,
		State:        lease.State,
		Heartbeat:    time.UnixMilli(lease.Heartbeat),
		RegisteredAt: time.UnixMilli(lease.RegisteredAt),
		LastWriteAt:  time.UnixMilli(lease.LastWriteAt),
	}, nil
}
