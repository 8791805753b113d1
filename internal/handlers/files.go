package handlers

import (
	"errors"
	"fmt"

	"github.com/driftbox/backend/internal/middleware"
	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/internal/services"
	"github.com/driftbox/backend/internal/storage"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/driftbox/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FilesHandler struct {
	DB       *gorm.DB
	Storage  *storage.R2Client
	Authz    *services.Authorizer
	Trash    *services.TrashService
	Activity *services.ActivityService
}

func NewFilesHandler(db *gorm.DB, storageClient *storage.R2Client, authz *services.Authorizer, trash *services.TrashService, activity *services.ActivityService) *FilesHandler {
	return &FilesHandler{DB: db, Storage: storageClient, Authz: authz, Trash: trash, Activity: activity}
}

func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	var folderID *uuid.UUID
	if folderParam := c.FormValue("folderUUID"); folderParam != "" {
		folderUUID, err := parseUUID(folderParam)
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
		if d := h.Authz.Can(c.Context(), pctx, services.ActionCreateChild, services.FolderTarget(&folder)); !d.Allowed {
			logger.WarnWithUser(currentUser.ID.String(), "permission_denied", map[string]interface{}{
				"action":    "file_upload",
				"folder_id": folder.ID.String(),
				"reason":    string(d.Reason),
			})
			return utils.Error(c, fiber.StatusForbidden, "access denied")
		}
		folderID = &folder.ID
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objectKey := fmt.Sprintf("%s/%s", currentUser.ID, uuid.New())
	file := models.File{
		Name:        fileHeader.Filename,
		MimeType:    contentType,
		SizeBytes:   fileHeader.Size,
		OwnerID:     currentUser.ID,
		FolderID:    folderID,
		R2ObjectKey: objectKey,
		Status:      models.FileStatusUploading,
	}

	// Quota is reserved together with the row so trashed items keep
	// occupying it until purge; the conditional update enforces the
	// limit without a separate read.
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND (quota_limit_bytes IS NULL OR quota_used_bytes + ? <= quota_limit_bytes)",
				currentUser.ID, fileHeader.Size).
			UpdateColumn("quota_used_bytes", gorm.Expr("quota_used_bytes + ?", fileHeader.Size))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errQuotaExceeded
		}
		return tx.Create(&file).Error
	})
	if err != nil {
		if errors.Is(err, errQuotaExceeded) {
			return utils.Error(c, fiber.StatusRequestEntityTooLarge, "storage quota exceeded")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating file")
	}

	stream, err := fileHeader.Open()
	if err != nil {
		h.releaseFailedUpload(c, &file)
		return utils.Error(c, fiber.StatusInternalServerError, "failed reading upload")
	}
	defer stream.Close()

	if err := h.Storage.Upload(c.Context(), objectKey, stream, fileHeader.Size, contentType); err != nil {
		h.releaseFailedUpload(c, &file)
		return utils.Error(c, fiber.StatusBadGateway, "failed storing file")
	}

	err = h.DB.Model(&models.File{}).
		Where("id = ?", file.ID).
		Update("status", models.FileStatusActive).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed finalizing upload")
	}
	file.Status = models.FileStatusActive

	logger.InfoWithUser(currentUser.ID.String(), "file_uploaded", map[string]interface{}{
		"file_id":    file.ID.String(),
		"name":       file.Name,
		"size_bytes": file.SizeBytes,
	})

	h.Activity.Record(services.ActivityEntry{
		UserID:       &currentUser.ID,
		Action:       "file.upload",
		ResourceType: "file",
		ResourceID:   &file.ID,
		Metadata: map[string]interface{}{
			"name":       file.Name,
			"size_bytes": file.SizeBytes,
		},
	})

	return utils.Success(c, fiber.StatusCreated, file)
}

var errQuotaExceeded = errors.New("quota exceeded")

func (h *FilesHandler) releaseFailedUpload(c *fiber.Ctx, file *models.File) {
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().Where("id = ?", file.ID).Delete(&models.File{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&models.User{}).
			Where("id = ?", file.OwnerID).
			UpdateColumn("quota_used_bytes", gorm.Expr(
				"CASE WHEN quota_used_bytes >= ? THEN quota_used_bytes - ? ELSE 0 END",
				file.SizeBytes, file.SizeBytes,
			)).Error
	})
	if err != nil {
		logger.Error("failed_upload_release", err, map[string]interface{}{
			"file_id": file.ID.String(),
		})
	}
}

func (h *FilesHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	var file models.File
	if err := h.DB.First(&file, "id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "file not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading file")
	}

	if d := h.Authz.Can(c.Context(), pctx, services.ActionRead, services.FileTarget(&file)); !d.Allowed {
		return utils.Error(c, fiber.StatusForbidden, "access denied")
	}

	return utils.Success(c, fiber.StatusOK, file)
}

func (h *FilesHandler) Download(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	var file models.File
	if err := h.DB.First(&file, "id = ? AND status = ?", fileID, models.FileStatusActive).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "file not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading file")
	}

	if d := h.Authz.Can(c.Context(), pctx, services.ActionDownload, services.FileTarget(&file)); !d.Allowed {
		logger.WarnWithUser(currentUser.ID.String(), "permission_denied", map[string]interface{}{
			"action":    "file_download",
			"target_id": file.ID.String(),
			"reason":    string(d.Reason),
		})
		return utils.Error(c, fiber.StatusForbidden, "access denied")
	}

	obj, err := h.Storage.Download(c.Context(), file.R2ObjectKey)
	if err != nil {
		return utils.Error(c, fiber.StatusBadGateway, "failed fetching file")
	}

	c.Set("Content-Type", file.MimeType)
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	return c.SendStream(obj, int(file.SizeBytes))
}

type updateFileRequest struct {
	Name       *string `json:"name"`
	FolderUUID *string `json:"folderUUID"`
}

func (h *FilesHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	var file models.File
	if err := h.DB.First(&file, "id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "file not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading file")
	}

	var req updateFileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}

	if req.Name != nil {
		if d := h.Authz.Can(c.Context(), pctx, services.ActionRename, services.FileTarget(&file)); !d.Allowed {
			return utils.Error(c, fiber.StatusForbidden, "access denied")
		}
		if *req.Name == "" {
			return utils.Error(c, fiber.StatusBadRequest, "name must not be empty")
		}
		updates["name"] = *req.Name
	}

	if req.FolderUUID != nil {
		if d := h.Authz.Can(c.Context(), pctx, services.ActionMove, services.FileTarget(&file)); !d.Allowed {
			return utils.Error(c, fiber.StatusForbidden, "access denied")
		}
		if *req.FolderUUID == "" {
			updates["folder_id"] = nil
		} else {
			folderUUID, err := parseUUID(*req.FolderUUID)
			if err != nil {
				return utils.Error(c, fiber.StatusBadRequest, "invalid folder uuid")
			}
			var folder models.Folder
			if err := h.DB.First(&folder, "uuid = ?", folderUUID).Error; err != nil {
				return utils.Error(c, fiber.StatusNotFound, "destination folder not found")
			}
			if d := h.Authz.Can(c.Context(), pctx, services.ActionCreateChild, services.FolderTarget(&folder)); !d.Allowed {
				return utils.Error(c, fiber.StatusForbidden, "access denied on destination folder")
			}
			updates["folder_id"] = folder.ID
		}
	}

	if len(updates) == 0 {
		return utils.Success(c, fiber.StatusOK, file)
	}

	if err := h.DB.Model(&file).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating file")
	}

	return utils.Success(c, fiber.StatusOK, file)
}

func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	if err := h.Trash.SoftDeleteFile(c.Context(), pctx, fileID); err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "file_trashed", map[string]interface{}{
		"file_id": fileID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "file moved to trash"})
}

// Purge force-deletes a trashed file. Unlike the scheduled sweep, a
// store failure here is surfaced so the user can retry.
func (h *FilesHandler) Purge(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	if err := h.Trash.PurgeFile(c.Context(), pctx, fileID); err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "file_purged", map[string]interface{}{
		"file_id": fileID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "file permanently deleted"})
}
