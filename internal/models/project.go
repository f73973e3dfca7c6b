package models

// Project groups sessions discovered under one working directory for one
// source tool. Unique by (Path, Source).
type Project struct {
	ID             int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name           string `json:"name" gorm:"size:256;not null"`
	Path           string `json:"path" gorm:"size:1024;not null;uniqueIndex:idx_project_path_source"`
	Source         string `json:"source" gorm:"size:32;not null;default:claude;uniqueIndex:idx_project_path_source"`
	EncodedDirName string `json:"encoded_dir_name" gorm:"size:1024"`
	CreatedAt      int64  `json:"created_at" gorm:"autoCreateTime:milli"`
	UpdatedAt      int64  `json:"updated_at" gorm:"autoUpdateTime:milli;index"`
}
