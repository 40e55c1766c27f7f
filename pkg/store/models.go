package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	Name         string    `gorm:"not null"`
	PasswordHash string    `gorm:"not null"`
	Plan         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type StoryBookModel struct {
	ID        string         `gorm:"primaryKey"`
	OwnerID   string         `gorm:"not null;index"`
	Title     string         `gorm:"not null;index"`
	Pages     datatypes.JSON `gorm:"type:jsonb;not null"`
	IsPublic  bool           `gorm:"not null;index"`
	CreatedAt time.Time      `gorm:"not null;index"`
	UpdatedAt time.Time      `gorm:"not null"`
}

type CommentModel struct {
	ID         string    `gorm:"primaryKey"`
	StoryID    string    `gorm:"not null;index"`
	AuthorName string    `gorm:"not null"`
	Text       string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}
