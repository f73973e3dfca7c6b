package models

// ScanCheckpoint is the collector's per-session cursor into a transcript
// file. (Generation, Offset) only ever moves forward; Generation bumps when
// the file is found rewritten, truncated or replaced by another file.
type ScanCheckpoint struct {
	SessionID     string `json:"session_id" gorm:"primaryKey;size:128"`
	Generation    int64  `json:"generation" gorm:"not null;default:0"`
	Offset        int64  `json:"offset" gorm:"not null;default:0"`         // bytes consumed in this generation
	Lines         int64  `json:"lines" gorm:"not null;default:0"`          // lines consumed in this generation
	LastTimestamp int64  `json:"last_timestamp" gorm:"not null;default:0"` // ms of the newest ingested message
	FileSize      int64  `json:"file_size" gorm:"not null;default:0"`
	FileMtime     int64  `json:"file_mtime" gorm:"not null;default:0"` // ms
	FileID        int64  `json:"file_id" gorm:"not null;default:0"`    // inode, 0 when the platform has none
	UpdatedAt     int64  `json:"updated_at" gorm:"autoUpdateTime:milli"`
}
