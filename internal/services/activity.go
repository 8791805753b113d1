package services

import (
	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ActivityEntry struct {
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Metadata     map[string]interface{}
}

// ActivityService persists completed-mutation records off the request
// path. Callers never depend on its result; a full queue drops the
// entry with a warning rather than blocking.
type ActivityService struct {
	DB    *gorm.DB
	queue chan models.Activity
}

func NewActivityService(db *gorm.DB, bufferSize int) *ActivityService {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	s := &ActivityService{
		DB:    db,
		queue: make(chan models.Activity, bufferSize),
	}
	go s.processQueue()
	return s
}

func (s *ActivityService) Record(entry ActivityEntry) {
	if s == nil {
		return
	}

	row := models.Activity{
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Metadata:     entry.Metadata,
	}

	select {
	case s.queue <- row:
	default:
		logger.Warn("activity_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *ActivityService) processQueue() {
	for row := range s.queue {
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("activity_insert_failed", err, map[string]interface{}{
				"action": row.Action,
			})
		}
	}
}
