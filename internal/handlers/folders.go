package handlers

import (
	"errors"
	"strings"

	"github.com/driftbox/backend/internal/middleware"
	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/internal/services"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/driftbox/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FoldersHandler struct {
	DB       *gorm.DB
	Authz    *services.Authorizer
	Trash    *services.TrashService
	Activity *services.ActivityService
}

func NewFoldersHandler(db *gorm.DB, authz *services.Authorizer, trash *services.TrashService, activity *services.ActivityService) *FoldersHandler {
	return &FoldersHandler{DB: db, Authz: authz, Trash: trash, Activity: activity}
}

type createFolderRequest struct {
	Name       string  `json:"name"`
	ParentUUID *string `json:"parentUUID"`
}

func (h *FoldersHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	var req createFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}

	var parentID *uuid.UUID
	if req.ParentUUID != nil && *req.ParentUUID != "" {
		parentUUID, err := parseUUID(*req.ParentUUID)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid parent uuid")
		}
		var parent models.Folder
		if err := h.DB.First(&parent, "uuid = ?", parentUUID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.Error(c, fiber.StatusNotFound, "parent folder not found")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed loading parent folder")
		}
		if d := h.Authz.Can(c.Context(), pctx, services.ActionCreateChild, services.FolderTarget(&parent)); !d.Allowed {
			return utils.Error(c, fiber.StatusForbidden, "access denied")
		}
		parentID = &parent.ID
	}

	folder := models.Folder{
		Name:     strings.TrimSpace(req.Name),
		OwnerID:  currentUser.ID,
		ParentID: parentID,
	}
	if err := h.DB.Create(&folder).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating folder")
	}

	h.Activity.Record(services.ActivityEntry{
		UserID:       &currentUser.ID,
		Action:       "folder.create",
		ResourceType: "folder",
		ResourceID:   &folder.ID,
		Metadata:     map[string]interface{}{"name": folder.Name},
	})

	return utils.Success(c, fiber.StatusCreated, folder)
}

func (h *FoldersHandler) Children(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	folderUUID, err := parseUUID(c.Params("uuid"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folder uuid")
	}

	var folder models.Folder
	if err := h.DB.First(&folder, "uuid = ?", folderUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "folder not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading folder")
	}

	if d := h.Authz.Can(c.Context(), pctx, services.ActionList, services.FolderTarget(&folder)); !d.Allowed {
		logger.WarnWithUser(currentUser.ID.String(), "permission_denied", map[string]interface{}{
			"action":    "folder_list",
			"target_id": folder.ID.String(),
			"reason":    string(d.Reason),
		})
		return utils.Error(c, fiber.StatusForbidden, "access denied")
	}

	var subfolders []models.Folder
	if err := h.DB.Where("parent_id = ?", folder.ID).Order("name").Find(&subfolders).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing folders")
	}

	var files []models.File
	err = h.DB.Where("folder_id = ? AND status = ?", folder.ID, models.FileStatusActive).
		Order("name").
		Find(&files).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing files")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"folder":  folder,
		"folders": subfolders,
		"files":   files,
	})
}

// ListRoot returns the caller's own top-level folders and files.
func (h *FoldersHandler) ListRoot(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var folders []models.Folder
	err := h.DB.Where("owner_id = ? AND parent_id IS NULL", currentUser.ID).
		Order("name").
		Find(&folders).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing folders")
	}

	var files []models.File
	err = h.DB.Where("owner_id = ? AND folder_id IS NULL AND status = ?", currentUser.ID, models.FileStatusActive).
		Order("name").
		Find(&files).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing files")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"folders": folders,
		"files":   files,
	})
}

func (h *FoldersHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	folderUUID, err := parseUUID(c.Params("uuid"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folder uuid")
	}

	if err := h.Trash.SoftDeleteFolder(c.Context(), pctx, folderUUID); err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "folder_trashed", map[string]interface{}{
		"folder_uuid": folderUUID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "folder moved to trash"})
}

func (h *FoldersHandler) Purge(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	folderUUID, err := parseUUID(c.Params("uuid"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folder uuid")
	}

	if err := h.Trash.PurgeFolder(c.Context(), pctx, folderUUID); err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "folder_purged", map[string]interface{}{
		"folder_uuid": folderUUID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "folder permanently deleted"})
}
