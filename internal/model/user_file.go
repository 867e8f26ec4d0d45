package model

import "time"

// UserFile records a document uploaded by a user and attached to their
// remote vector store. RemoteFileID and the remote object are expected to
// stay in lock-step; teardown enforces that.
type UserFile struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	StoredPath   string    `gorm:"size:512;not null" json:"-"`
	OriginalName string    `gorm:"size:256;not null" json:"original_name"`
	RemoteFileID string    `gorm:"size:128;not null" json:"-"`
	FileSize     int64     `gorm:"not null" json:"file_size"`
	UploadedAt   time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}
