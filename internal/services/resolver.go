package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// maxFolderDepth bounds the ancestor walk. Legitimate trees never
// nest this deep; hitting the bound is treated like a cycle.
const maxFolderDepth = 64

type TargetType string

const (
	TargetFile   TargetType = "file"
	TargetFolder TargetType = "folder"
)

// Target identifies the item an authorization check is about, with
// just enough of its row to decide ownership and start the ancestor
// walk.
type Target struct {
	Type     TargetType
	ID       uuid.UUID
	OwnerID  uuid.UUID
	FolderID *uuid.UUID
}

func FileTarget(f *models.File) Target {
	return Target{Type: TargetFile, ID: f.ID, OwnerID: f.OwnerID, FolderID: f.FolderID}
}

func FolderTarget(f *models.Folder) Target {
	return Target{Type: TargetFolder, ID: f.ID, OwnerID: f.OwnerID, FolderID: f.ParentID}
}

// Resolution is the outcome of a share lookup. SawExpired is set when
// a share was found somewhere in the chain but had lapsed, so denials
// can report expiry instead of absence.
type Resolution struct {
	Level      PermissionLevel
	Found      bool
	SawExpired bool
}

type ShareResolver struct {
	DB *gorm.DB
}

func NewShareResolver(db *gorm.DB) *ShareResolver {
	return &ShareResolver{DB: db}
}

// Resolve computes the effective share permission for an item: a
// direct file share first, then the containing folder, then each
// ancestor in turn. The nearest controlling share wins. An expired
// share is treated as absent, not as a weaker grant, and the walk
// continues past it.
func (r *ShareResolver) Resolve(ctx context.Context, pctx *PermissionContext, target Target) (Resolution, error) {
	res := Resolution{}

	var start *uuid.UUID
	if target.Type == TargetFile {
		if grant, ok := pctx.FileGrant(target.ID); ok {
			if !grant.Expired {
				return Resolution{Level: grant.Level, Found: true}, nil
			}
			res.SawExpired = true
		}
		start = target.FolderID
	} else {
		id := target.ID
		start = &id
	}

	visited := make(map[uuid.UUID]bool)
	current := start

	for depth := 0; current != nil; depth++ {
		if depth >= maxFolderDepth || visited[*current] {
			// Corrupted hierarchy. Fail closed and report.
			err := fmt.Errorf("folder ancestry of %s does not terminate: %w", current, ErrIntegrityViolation)
			logger.Error("folder_ancestry_cycle", err, map[string]interface{}{
				"folder_id": current.String(),
				"depth":     depth,
			})
			return Resolution{}, err
		}
		visited[*current] = true

		if grant, ok := pctx.FolderGrant(*current); ok {
			if !grant.Expired {
				res.Level = grant.Level
				res.Found = true
				return res, nil
			}
			res.SawExpired = true
		}

		var folder models.Folder
		err := r.DB.WithContext(ctx).Unscoped().
			Select("id", "parent_id").
			First(&folder, "id = ?", *current).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return Resolution{}, err
		}
		current = folder.ParentID
	}

	return res, nil
}
