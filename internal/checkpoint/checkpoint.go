// Package checkpoint tracks how far the collector has read into each
// transcript file. Stored checkpoints never move backwards.
package checkpoint

import (
	"errors"
	"fmt"

	"github.com/zulandar/sessionyard/internal/errs"
	"github.com/zulandar/sessionyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Checkpoint is a read cursor into one session's transcript file.
// Position order is (Generation, Offset), compared lexicographically.
type Checkpoint struct {
	SessionID     string
	Generation    int64
	Offset        int64
	Lines         int64
	LastTimestamp int64
	FileSize      int64
	FileMtime     int64
	FileID        int64 // inode of the file last read; 0 when unknown
}

// Before reports whether c's position is strictly behind o's.
func (c Checkpoint) Before(o Checkpoint) bool {
	if c.Generation != o.Generation {
		return c.Generation < o.Generation
	}
	return c.Offset < o.Offset
}

// Covers reports whether a file with this size, mtime and identity has
// already been fully examined, so it can be skipped without opening it.
func (c Checkpoint) Covers(size, mtime, fileID int64) bool {
	return c.FileSize == size && c.FileMtime == mtime && c.FileID == fileID
}

// Replaced reports whether fileID names a different file than the one the
// checkpoint was taken on. Unknown identities never count as replaced.
func (c Checkpoint) Replaced(fileID int64) bool {
	return c.FileID != 0 && fileID != 0 && c.FileID != fileID
}

// Resume returns the position to continue reading a file that is now size
// bytes long with identity fileID. A file shorter than the stored offset,
// or a different file renamed into place, has been rewritten; reading
// restarts at 0 under the next generation.
func (c Checkpoint) Resume(size, fileID int64) (start Checkpoint, rewritten bool) {
	start = c
	start.FileID = fileID
	if size < c.Offset || c.Replaced(fileID) {
		start.Generation++
		start.Offset = 0
		start.Lines = 0
		return start, true
	}
	return start, false
}

// Merge combines a stored checkpoint with a proposed one. A proposal that
// is behind the stored position is ignored entirely; otherwise the
// proposal wins. LastTimestamp is the max of both either way.
func Merge(stored, next Checkpoint) Checkpoint {
	if next.Before(stored) {
		return stored
	}
	out := next
	out.SessionID = stored.SessionID
	if stored.LastTimestamp > out.LastTimestamp {
		out.LastTimestamp = stored.LastTimestamp
	}
	return out
}

func fromModel(m models.ScanCheckpoint) Checkpoint {
	return Checkpoint{
		SessionID:     m.SessionID,
		Generation:    m.Generation,
		Offset:        m.Offset,
		Lines:         m.Lines,
		LastTimestamp: m.LastTimestamp,
		FileSize:      m.FileSize,
		FileMtime:     m.FileMtime,
		FileID:        m.FileID,
	}
}

func (c Checkpoint) toModel() models.ScanCheckpoint {
	return models.ScanCheckpoint{
		SessionID:     c.SessionID,
		Generation:    c.Generation,
		Offset:        c.Offset,
		Lines:         c.Lines,
		LastTimestamp: c.LastTimestamp,
		FileSize:      c.FileSize,
		FileMtime:     c.FileMtime,
		FileID:        c.FileID,
	}
}

// Get loads the checkpoint for a session. ok is false when the session has
// never been scanned.
func Get(db *gorm.DB, sessionID string) (cp Checkpoint, ok bool, err error) {
	if sessionID == "" {
		return Checkpoint{}, false, errs.New(errs.KindInvalidInput, "checkpoint: session id is required")
	}
	var row models.ScanCheckpoint
	err = db.Where("session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Checkpoint{SessionID: sessionID}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, errs.Wrap(err, errs.KindDatabase, fmt.Sprintf("checkpoint: get %s", sessionID))
	}
	return fromModel(row), true, nil
}

// Advance stores next for its session, clamped so the stored position never
// regresses. It returns the checkpoint as stored. Call it inside the same
// transaction as the message inserts it describes.
func Advance(tx *gorm.DB, next Checkpoint) (Checkpoint, error) {
	stored, ok, err := Get(tx, next.SessionID)
	if err != nil {
		return Checkpoint{}, err
	}
	merged := next
	if ok {
		merged = Merge(stored, next)
		if merged == stored {
			return stored, nil
		}
	}

	row := merged.toModel()
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return Checkpoint{}, errs.Wrap(err, errs.KindDatabase, fmt.Sprintf("checkpoint: advance %s", next.SessionID))
	}
	return merged, nil
}
