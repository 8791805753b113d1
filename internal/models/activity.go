package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activity is the fire-and-forget record of a completed mutation.
// It does not use BaseModel because activity rows are append-only.
type Activity struct {
	ID           uuid.UUID              `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       *uuid.UUID             `json:"userID,omitempty" gorm:"type:uuid;index"`
	Action       string                 `json:"action" gorm:"type:varchar(50);not null;index"`
	ResourceType string                 `json:"resourceType" gorm:"type:varchar(30);not null"`
	ResourceID   *uuid.UUID             `json:"resourceID,omitempty" gorm:"type:uuid"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" gorm:"serializer:json"`
	CreatedAt    time.Time              `json:"createdAt" gorm:"index"`
}

func (Activity) TableName() string {
	return "activities"
}

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}
