package models

// Message is one transcript line. UUID is the idempotency key within a
// session: (SessionID, UUID) is unique for the lifetime of the database.
type Message struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID string `json:"session_id" gorm:"size:128;not null;uniqueIndex:idx_message_session_uuid;index:idx_message_session_seq"`
	UUID      string `json:"uuid" gorm:"column:uuid;size:128;not null;uniqueIndex:idx_message_session_uuid"`
	Role      string `json:"role" gorm:"size:16;not null;index"` // user, assistant, system, tool
	Content   string `json:"content" gorm:"type:text;not null"`
	Timestamp int64  `json:"timestamp" gorm:"not null;index"` // ms
	Sequence  int64  `json:"sequence" gorm:"not null;index:idx_message_session_seq"`
	Model     string `json:"model" gorm:"size:128"`
	ToolName  string `json:"tool_name" gorm:"size:128"`
	Raw       string `json:"raw" gorm:"type:text"`
}
