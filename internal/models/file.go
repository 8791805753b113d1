package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FileStatus string

const (
	// FileStatusUploading marks a row whose remote object has not been
	// fully written yet. Rows stuck here are reaped by the stale-upload
	// cleanup.
	FileStatusUploading FileStatus = "uploading"
	FileStatusActive    FileStatus = "active"
)

type File struct {
	BaseModel
	Name      string     `json:"name" gorm:"type:varchar(255);not null"`
	MimeType  string     `json:"mimeType" gorm:"type:varchar(255);not null"`
	SizeBytes int64      `json:"sizeBytes" gorm:"not null;default:0"`
	OwnerID   uuid.UUID  `json:"ownerID" gorm:"type:uuid;not null;index"`
	FolderID  *uuid.UUID `json:"folderID,omitempty" gorm:"type:uuid;index"`

	// R2ObjectKey is immutable once set and globally unique. The remote
	// object must exist while the row is live; after soft delete it is
	// left orphaned until purge.
	R2ObjectKey string     `json:"-" gorm:"column:r2_object_key;type:text;uniqueIndex;not null"`
	Status      FileStatus `json:"status" gorm:"type:varchar(20);not null;default:'active';index"`

	DeletedAt gorm.DeletedAt `json:"deletedAt,omitempty" gorm:"index"`

	Owner  User    `json:"-" gorm:"foreignKey:OwnerID;references:ID"`
	Folder *Folder `json:"-" gorm:"foreignKey:FolderID;references:ID"`
	Shares []Share `json:"-" gorm:"foreignKey:FileID"`
}
