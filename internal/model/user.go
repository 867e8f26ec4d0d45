package model

import "time"

type User struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	Username     string  `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email        string  `gorm:"size:128;not null;uniqueIndex" json:"email"`
	PasswordHash string  `gorm:"size:255;not null" json:"-"`
	IsAdmin      bool    `gorm:"not null;default:false" json:"is_admin"`
	RequestCount int     `gorm:"not null;default:0" json:"request_count"`
	// VectorStoreID is set once the user's remote index has been durably
	// created; nil means not yet provisioned.
	VectorStoreID *string   `gorm:"size:128" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
