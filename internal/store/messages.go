package store

import (
	"strings"
	"time"

	"github.com/zulandar/sessionyard/internal/errs"
	"github.com/zulandar/sessionyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageInput is one message to store.
type MessageInput struct {
	UUID      string
	Role      string
	Content   string
	Timestamp int64
	Sequence  int64
	Model     string
	ToolName  string
	Raw       string
}

// InsertResult reports what InsertMessages actually wrote.
type InsertResult struct {
	Inserted int
	IDs      []int64
}

// InsertMessages stores msgs under sessionID, skipping any whose uuid is
// already stored for that session, then recomputes the session's
// message_count and last_message_at. Run it inside the caller's write
// transaction so the counters commit with the rows.
func InsertMessages(tx *gorm.DB, sessionID string, msgs []MessageInput) (InsertResult, error) {
	var res InsertResult
	if strings.TrimSpace(sessionID) == "" {
		return res, errs.New(errs.KindInvalidInput, "store: session id is required")
	}
	for _, m := range msgs {
		if strings.TrimSpace(m.UUID) == "" {
			return res, errs.New(errs.KindInvalidInput, "store: message uuid is required")
		}
	}

	for _, m := range msgs {
		row := models.Message{
			SessionID: sessionID,
			UUID:      m.UUID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Sequence:  m.Sequence,
			Model:     m.Model,
			ToolName:  m.ToolName,
			Raw:       m.Raw,
		}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "uuid"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return res, errs.Wrap(result.Error, errs.KindDatabase, "store: insert message")
		}
		if result.RowsAffected > 0 {
			res.Inserted++
			res.IDs = append(res.IDs, row.ID)
		}
	}

	if err := RecomputeSessionCounters(tx, sessionID); err != nil {
		return res, err
	}
	return res, nil
}

// RecomputeSessionCounters sets message_count from the messages table and
// raises last_message_at to the newest stored message.
func RecomputeSessionCounters(tx *gorm.DB, sessionID string) error {
	err := tx.Exec(`
		UPDATE sessions SET
			message_count = (SELECT COUNT(*) FROM messages WHERE session_id = ?),
			last_message_at = CASE
				WHEN last_message_at IS NULL
					OR last_message_at < COALESCE((SELECT MAX(timestamp) FROM messages WHERE session_id = ?), last_message_at)
				THEN (SELECT MAX(timestamp) FROM messages WHERE session_id = ?)
				ELSE last_message_at END,
			updated_at = ?
		WHERE session_id = ?`,
		sessionID, sessionID, sessionID, time.Now().UnixMilli(), sessionID).Error
	if err != nil {
		return errs.Wrap(err, errs.KindDatabase, "store: recompute session counters")
	}
	return nil
}

// ExistingUUIDs returns which of uuids are already stored for a session.
func ExistingUUIDs(db *gorm.DB, sessionID string, uuids []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(uuids))
	const chunk = 500
	for start := 0; start < len(uuids); start += chunk {
		end := start + chunk
		if end > len(uuids) {
			end = len(uuids)
		}
		var found []string
		err := db.Model(&models.Message{}).
			Where("session_id = ? AND uuid IN ?", sessionID, uuids[start:end]).
			Pluck("uuid", &found).Error
		if err != nil {
			return nil, errs.Wrap(err, errs.KindDatabase, "store: existing uuids")
		}
		for _, u := range found {
			seen[u] = true
		}
	}
	return seen, nil
}

// ListOptions pages through a session's messages.
type ListOptions struct {
	Limit  int
	Offset int
	Desc   bool
}

// ListMessages returns a session's messages in sequence order.
func ListMessages(db *gorm.DB, sessionID string, opts ListOptions) ([]models.Message, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	order := "sequence ASC, id ASC"
	if opts.Desc {
		order = "sequence DESC, id DESC"
	}
	var msgs []models.Message
	err := db.Where("session_id = ?", sessionID).
		Order(order).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Find(&msgs).Error
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: list messages")
	}
	return msgs, nil
}

// Stats are database-wide totals.
type Stats struct {
	Projects      int64  `json:"projects"`
	Sessions      int64  `json:"sessions"`
	Messages      int64  `json:"messages"`
	LastMessageAt *int64 `json:"last_message_at"`
}

// GetStats counts projects, sessions and messages.
func GetStats(db *gorm.DB) (Stats, error) {
	var s Stats
	err := db.Raw(`SELECT
		(SELECT COUNT(*) FROM projects) AS projects,
		(SELECT COUNT(*) FROM sessions) AS sessions,
		(SELECT COUNT(*) FROM messages) AS messages,
		(SELECT MAX(last_message_at) FROM sessions) AS last_message_at`).Scan(&s).Error
	if err != nil {
		return Stats{}, errs.Wrap(err, errs.KindDatabase, "store: stats")
	}
	return s, nil
}
