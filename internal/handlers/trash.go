package handlers

import (
	"github.com/driftbox/backend/internal/middleware"
	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/internal/services"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/driftbox/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TrashHandler struct {
	DB    *gorm.DB
	Trash *services.TrashService
}

func NewTrashHandler(db *gorm.DB, trash *services.TrashService) *TrashHandler {
	return &TrashHandler{DB: db, Trash: trash}
}

func (h *TrashHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var files []models.File
	err := h.DB.Unscoped().
		Where("owner_id = ? AND deleted_at IS NOT NULL", currentUser.ID).
		Order("deleted_at DESC").
		Find(&files).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing trash")
	}

	var folders []models.Folder
	err = h.DB.Unscoped().
		Where("owner_id = ? AND deleted_at IS NOT NULL", currentUser.ID).
		Order("deleted_at DESC").
		Find(&folders).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing trash")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"files":   files,
		"folders": folders,
	})
}

type bulkDeleteRequest struct {
	FileIDs     []uuid.UUID `json:"fileIDs"`
	FolderUUIDs []uuid.UUID `json:"folderUUIDs"`
}

// BulkDelete moves a batch of items to the trash atomically: if any
// target fails authorization nothing is deleted, and the response
// names the offending item.
func (h *TrashHandler) BulkDelete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	var req bulkDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.FileIDs) == 0 && len(req.FolderUUIDs) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "nothing to delete")
	}

	result, err := h.Trash.BulkDelete(c.Context(), pctx, req.FileIDs, req.FolderUUIDs)
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "bulk_delete_completed", map[string]interface{}{
		"deleted_files":   result.DeletedFiles,
		"deleted_folders": result.DeletedFolders,
	})
	return utils.Success(c, fiber.StatusOK, result)
}

func (h *TrashHandler) Restore(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	itemID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid item id")
	}

	switch c.Params("type") {
	case "file":
		err = h.Trash.RestoreFile(c.Context(), pctx, itemID)
	case "folder":
		err = h.Trash.RestoreFolder(c.Context(), pctx, itemID)
	default:
		return utils.Error(c, fiber.StatusBadRequest, "type must be file or folder")
	}
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "trash_item_restored", map[string]interface{}{
		"type": c.Params("type"),
		"id":   itemID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "restored"})
}

// Empty purges every trashed item the caller owns.
func (h *TrashHandler) Empty(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	var folders []models.Folder
	err := h.DB.Unscoped().
		Where("owner_id = ? AND deleted_at IS NOT NULL", currentUser.ID).
		Find(&folders).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing trash")
	}

	var purged int64
	for i := range folders {
		err := h.Trash.PurgeFolder(c.Context(), pctx, folders[i].UUID)
		if err == services.ErrNotFound {
			// Already purged as a descendant of an earlier folder.
			continue
		}
		if err != nil {
			return serviceError(c, err)
		}
		purged++
	}

	var files []models.File
	err = h.DB.Unscoped().
		Where("owner_id = ? AND deleted_at IS NOT NULL", currentUser.ID).
		Find(&files).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing trash")
	}

	for i := range files {
		err := h.Trash.PurgeFile(c.Context(), pctx, files[i].ID)
		if err == services.ErrNotFound {
			continue
		}
		if err != nil {
			return serviceError(c, err)
		}
		purged++
	}

	logger.InfoWithUser(currentUser.ID.String(), "trash_emptied", map[string]interface{}{
		"purged": purged,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"purged": purged})
}
