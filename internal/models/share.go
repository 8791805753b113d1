package models

import (
	"time"

	"github.com/google/uuid"
)

type SharePermission string

const (
	SharePermissionView SharePermission = "view"
	SharePermissionEdit SharePermission = "edit"
)

// Share grants a user (or, for guest links, any bearer of the token)
// access to a single file or a folder subtree. Exactly one of FileID
// and FolderID is set; the database enforces this with a check
// constraint. Shares are read-only after creation: revocation is a
// hard delete and expiry is computed from ExpiresAt, never written.
type Share struct {
	BaseModel
	FileID       *uuid.UUID      `json:"fileID,omitempty" gorm:"type:uuid;index"`
	FolderID     *uuid.UUID      `json:"folderID,omitempty" gorm:"type:uuid;index"`
	SharedByID   uuid.UUID       `json:"sharedByID" gorm:"type:uuid;not null;index"`
	SharedWithID *uuid.UUID      `json:"sharedWithID,omitempty" gorm:"type:uuid;index"`
	TokenHash    *string         `json:"-" gorm:"type:char(64);uniqueIndex"`
	Permission   SharePermission `json:"permission" gorm:"type:varchar(20);not null;default:'view'"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`

	File       *File   `json:"file,omitempty" gorm:"foreignKey:FileID;references:ID"`
	Folder     *Folder `json:"folder,omitempty" gorm:"foreignKey:FolderID;references:ID"`
	SharedBy   User    `json:"sharedBy,omitempty" gorm:"foreignKey:SharedByID;references:ID"`
	SharedWith *User   `json:"sharedWith,omitempty" gorm:"foreignKey:SharedWithID;references:ID"`
}

func (Share) TableName() string {
	return "shares"
}

// IsGuestLink reports whether this share is a token link rather than a
// grant to a specific user.
func (s *Share) IsGuestLink() bool {
	return s.SharedWithID == nil
}

func (s *Share) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}
