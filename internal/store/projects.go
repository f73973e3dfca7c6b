// Package store holds the queries behind sessionyard's storage and search
// operations. Functions take a *gorm.DB so callers choose whether they run
// inside a transaction.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/sessionyard/internal/errs"
	"github.com/zulandar/sessionyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultSource is the source tool assumed when none is given.
const DefaultSource = "claude"

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errs.New(errs.KindInvalidInput, "not found")

// keepIfEmpty builds an upsert assignment that keeps the stored value when
// the incoming one is empty.
func keepIfEmpty(table, column string) clause.Assignment {
	return clause.Assignment{
		Column: clause.Column{Name: column},
		Value:  clause.Expr{SQL: fmt.Sprintf("COALESCE(NULLIF(excluded.%s, ''), %s.%s)", column, table, column)},
	}
}

func fromExcluded(column string) clause.Assignment {
	return clause.Assignment{
		Column: clause.Column{Name: column},
		Value:  clause.Expr{SQL: "excluded." + column},
	}
}

// UpsertProject inserts a project or refreshes the name and updated_at of
// the existing (path, source) row. It returns the stored row.
func UpsertProject(db *gorm.DB, name, path, source, encodedDirName string) (*models.Project, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.New(errs.KindInvalidInput, "store: project path is required")
	}
	if source == "" {
		source = DefaultSource
	}
	if name == "" {
		name = path
	}

	p := models.Project{Name: name, Path: path, Source: source, EncodedDirName: encodedDirName}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "path"}, {Name: "source"}},
		DoUpdates: clause.Set{
			fromExcluded("name"),
			keepIfEmpty("projects", "encoded_dir_name"),
			fromExcluded("updated_at"),
		},
	}).Create(&p).Error
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: upsert project")
	}

	var stored models.Project
	if err := db.Where("path = ? AND source = ?", path, source).First(&stored).Error; err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: reload project")
	}
	return &stored, nil
}

// GetProject loads a project by id.
func GetProject(db *gorm.DB, id int64) (*models.Project, error) {
	var p models.Project
	err := db.First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: get project")
	}
	return &p, nil
}

// FindProjectByPath returns the project for (path, source), or nil.
func FindProjectByPath(db *gorm.DB, path, source string) (*models.Project, error) {
	if source == "" {
		source = DefaultSource
	}
	var p models.Project
	err := db.Where("path = ? AND source = ?", path, source).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: find project")
	}
	return &p, nil
}

// ProjectSummary is a project with aggregate counts.
type ProjectSummary struct {
	models.Project
	SessionCount  int64  `json:"session_count"`
	MessageCount  int64  `json:"message_count"`
	LastMessageAt *int64 `json:"last_message_at"`
}

// ListProjects returns every project, most recently updated first.
func ListProjects(db *gorm.DB) ([]ProjectSummary, error) {
	var rows []ProjectSummary
	err := db.Table("projects").
		Select(`projects.*,
			COUNT(sessions.id) AS session_count,
			COALESCE(SUM(sessions.message_count), 0) AS message_count,
			MAX(sessions.last_message_at) AS last_message_at`).
		Joins("LEFT JOIN sessions ON sessions.project_id = projects.id").
		Group("projects.id").
		Order("projects.updated_at DESC, projects.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: list projects")
	}
	return rows, nil
}

// SessionInput carries the fields UpsertSession writes. Empty strings
// leave stored values alone.
type SessionInput struct {
	SessionID string
	ProjectID int64
	CWD       string
	Model     string
	FilePath  string
}

// UpsertSession inserts a session or updates its project and metadata.
// Message counters are untouched.
func UpsertSession(db *gorm.DB, in SessionInput) (*models.Session, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, errs.New(errs.KindInvalidInput, "store: session id is required")
	}
	if in.ProjectID <= 0 {
		return nil, errs.New(errs.KindInvalidInput, "store: project id is required")
	}

	s := models.Session{
		SessionID: in.SessionID,
		ProjectID: in.ProjectID,
		CWD:       in.CWD,
		Model:     in.Model,
		FilePath:  in.FilePath,
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Set{
			fromExcluded("project_id"),
			keepIfEmpty("sessions", "cwd"),
			keepIfEmpty("sessions", "model"),
			keepIfEmpty("sessions", "file_path"),
			fromExcluded("updated_at"),
		},
	}).Create(&s).Error
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: upsert session")
	}
	return GetSession(db, in.SessionID)
}

// GetSession loads a session by its external id.
func GetSession(db *gorm.DB, sessionID string) (*models.Session, error) {
	var s models.Session
	err := db.Where("session_id = ?", sessionID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: get session")
	}
	return &s, nil
}

// ListSessions returns a project's sessions, most recent activity first.
func ListSessions(db *gorm.DB, projectID int64) ([]models.Session, error) {
	var sessions []models.Session
	err := db.Where("project_id = ?", projectID).
		Order("last_message_at DESC NULLS LAST, id DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: list sessions")
	}
	return sessions, nil
}

// GetScanCheckpoint returns the session's newest message timestamp, or nil
// when the session is unknown or has no messages.
func GetScanCheckpoint(db *gorm.DB, sessionID string) (*int64, error) {
	s, err := GetSession(db, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.LastMessageAt, nil
}

// UpdateSessionLastMessage raises last_message_at to ts. It never lowers it.
func UpdateSessionLastMessage(db *gorm.DB, sessionID string, ts int64) error {
	result := db.Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"last_message_at": gorm.Expr("MAX(COALESCE(last_message_at, ?), ?)", ts, ts),
			"updated_at":      time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, errs.KindDatabase, "store: update last message")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// SearchSessionsByPrefix returns sessions whose id starts with prefix.
func SearchSessionsByPrefix(db *gorm.DB, prefix string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	var sessions []models.Session
	err := db.Where("session_id LIKE ? ESCAPE '\\'", likePrefix(prefix)).
		Order("session_id ASC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: search sessions")
	}
	return sessions, nil
}

// ResolveSessionID expands a unique session id prefix to the full id.
func ResolveSessionID(db *gorm.DB, prefix string) (string, error) {
	if strings.TrimSpace(prefix) == "" {
		return "", errs.New(errs.KindInvalidInput, "store: session prefix is required")
	}
	if _, err := GetSession(db, prefix); err == nil {
		return prefix, nil
	}
	matches, err := SearchSessionsByPrefix(db, prefix, 2)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("store: session prefix %q: %w", prefix, ErrNotFound)
	case 1:
		return matches[0].SessionID, nil
	}
	return "", errs.New(errs.KindInvalidInput, fmt.Sprintf("store: session prefix %q is ambiguous", prefix))
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
