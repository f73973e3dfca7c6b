package models

// Session is one transcript file's conversation. SessionID is the stable
// external identifier, usually the transcript file stem.
type Session struct {
	ID            int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID     string `json:"session_id" gorm:"size:128;not null;uniqueIndex"`
	ProjectID     int64  `json:"project_id" gorm:"not null;index"`
	MessageCount  int64  `json:"message_count" gorm:"not null;default:0"`
	LastMessageAt *int64 `json:"last_message_at" gorm:"index"` // ms; nil until the first message lands
	CWD           string `json:"cwd" gorm:"size:1024"`
	Model         string `json:"model" gorm:"size:128"`
	FilePath      string `json:"file_path" gorm:"size:1024"`
	CreatedAt     int64  `json:"created_at" gorm:"autoCreateTime:milli"`
	UpdatedAt     int64  `json:"updated_at" gorm:"autoUpdateTime:milli;index"`
}
