package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Folder struct {
	BaseModel
	UUID     uuid.UUID  `json:"uuid" gorm:"type:uuid;uniqueIndex;not null"`
	Name     string     `json:"name" gorm:"type:varchar(255);not null"`
	OwnerID  uuid.UUID  `json:"ownerID" gorm:"type:uuid;not null;index"`
	ParentID *uuid.UUID `json:"parentID,omitempty" gorm:"type:uuid;index"`

	DeletedAt gorm.DeletedAt `json:"deletedAt,omitempty" gorm:"index"`

	Parent   *Folder  `json:"-" gorm:"foreignKey:ParentID"`
	Children []Folder `json:"-" gorm:"foreignKey:ParentID"`
	Owner    User     `json:"-" gorm:"foreignKey:OwnerID;references:ID"`
	Files    []File   `json:"-" gorm:"foreignKey:FolderID"`
}

func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	if err := f.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if f.UUID == uuid.Nil {
		f.UUID = uuid.New()
	}
	return nil
}
