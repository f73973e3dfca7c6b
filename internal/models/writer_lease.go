package models

// WriterLeaseID is the primary key of the single lease row.
const WriterLeaseID = 1

// WriterLease is the singleton record arbitrating the writer role between
// processes sharing one database. Only the lease package mutates it.
type WriterLease struct {
	ID           int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	HolderID     string `json:"holder_id" gorm:"size:64;not null;default:''"`
	WriterType   string `json:"writer_type" gorm:"size:32;not null;default:''"`
	Priority     int    `json:"priority" gorm:"not null;default:0"`
	State        string `json:"state" gorm:"size:16;not null;default:released"` // active, released
	Heartbeat    int64  `json:"heartbeat" gorm:"not null;default:0"`            // ms
	RegisteredAt int64  `json:"registered_at" gorm:"not null;default:0"`        // ms
	LastWriteAt  int64  `json:"last_write_at" gorm:"not null;default:0"`        // ms
}
