package handlers

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

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

type SharesHandler struct {
	DB       *gorm.DB
	Storage  *storage.R2Client
	Authz    *services.Authorizer
	Activity *services.ActivityService
}

func NewSharesHandler(db *gorm.DB, storageClient *storage.R2Client, authz *services.Authorizer, activity *services.ActivityService) *SharesHandler {
	return &SharesHandler{DB: db, Storage: storageClient, Authz: authz, Activity: activity}
}

type createShareRequest struct {
	UserID     *uuid.UUID             `json:"userID"`
	GuestLink  bool                   `json:"guestLink"`
	Permission models.SharePermission `json:"permission"`
	ExpiresAt  *time.Time             `json:"expiresAt"`
}

func isValidSharePermission(p models.SharePermission) bool {
	return p == models.SharePermissionView || p == models.SharePermissionEdit
}

func (h *SharesHandler) ShareFile(c *fiber.Ctx) error {
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

	return h.createShare(c, services.FileTarget(&file), &file.ID, nil)
}

func (h *SharesHandler) ShareFolder(c *fiber.Ctx) error {
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

	return h.createShare(c, services.FolderTarget(&folder), nil, &folder.ID)
}

func (h *SharesHandler) createShare(c *fiber.Ctx, target services.Target, fileID, folderID *uuid.UUID) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	if d := h.Authz.Can(c.Context(), pctx, services.ActionShare, target); !d.Allowed {
		logger.WarnWithUser(currentUser.ID.String(), "permission_denied", map[string]interface{}{
			"action":    "share_create",
			"target_id": target.ID.String(),
			"reason":    string(d.Reason),
		})
		return utils.Error(c, fiber.StatusForbidden, "access denied")
	}

	var req createShareRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if !isValidSharePermission(req.Permission) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid permission")
	}
	if req.GuestLink == (req.UserID != nil) {
		return utils.Error(c, fiber.StatusBadRequest, "exactly one of userID or guestLink is required")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return utils.Error(c, fiber.StatusBadRequest, "expiry must be in the future")
	}

	share := models.Share{
		FileID:     fileID,
		FolderID:   folderID,
		SharedByID: currentUser.ID,
		Permission: req.Permission,
		ExpiresAt:  req.ExpiresAt,
	}

	var plainToken string
	if req.GuestLink {
		// Guest links always get view, never edit.
		share.Permission = models.SharePermissionView
		token := make([]byte, 32)
		if _, err := rand.Read(token); err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
		}
		plainToken = hex.EncodeToString(token)
		digest := sha256.Sum256([]byte(plainToken))
		hash := hex.EncodeToString(digest[:])
		share.TokenHash = &hash
	} else {
		if *req.UserID == currentUser.ID {
			return utils.Error(c, fiber.StatusBadRequest, "cannot share with yourself")
		}
		var targetUser models.User
		if err := h.DB.First(&targetUser, "id = ?", *req.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.Error(c, fiber.StatusNotFound, "target user not found")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed loading target user")
		}
		share.SharedWithID = req.UserID
	}

	if err := h.DB.Create(&share).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating share")
	}

	logger.InfoWithUser(currentUser.ID.String(), "share_created", map[string]interface{}{
		"share_id":   share.ID.String(),
		"target_id":  target.ID.String(),
		"permission": string(share.Permission),
		"guest_link": req.GuestLink,
	})

	h.Activity.Record(services.ActivityEntry{
		UserID:       &currentUser.ID,
		Action:       "share.create",
		ResourceType: string(target.Type),
		ResourceID:   &target.ID,
		Metadata: map[string]interface{}{
			"share_id":   share.ID.String(),
			"permission": string(share.Permission),
		},
	})

	response := fiber.Map{"share": share}
	if plainToken != "" {
		// The plain token is shown exactly once; only its hash is stored.
		response["token"] = plainToken
	}
	return utils.Success(c, fiber.StatusCreated, response)
}

// DeleteShare revokes a share. Only the grantor or the item's owner
// may revoke.
func (h *SharesHandler) DeleteShare(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	pctx := middleware.GetPermissionContext(c)

	shareID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid share id")
	}

	var share models.Share
	if err := h.DB.First(&share, "id = ?", shareID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "share not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading share")
	}

	if share.SharedByID != currentUser.ID {
		target, err := h.shareTarget(c, &share)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed loading shared item")
		}
		if d := h.Authz.Can(c.Context(), pctx, services.ActionShare, target); !d.Allowed {
			return utils.Error(c, fiber.StatusForbidden, "access denied")
		}
	}

	if err := h.DB.Delete(&share).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking share")
	}

	logger.InfoWithUser(currentUser.ID.String(), "share_revoked", map[string]interface{}{
		"share_id": share.ID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "share revoked"})
}

func (h *SharesHandler) shareTarget(c *fiber.Ctx, share *models.Share) (services.Target, error) {
	if share.FileID != nil {
		var file models.File
		if err := h.DB.Unscoped().First(&file, "id = ?", *share.FileID).Error; err != nil {
			return services.Target{}, err
		}
		return services.FileTarget(&file), nil
	}
	if share.FolderID != nil {
		var folder models.Folder
		if err := h.DB.Unscoped().First(&folder, "id = ?", *share.FolderID).Error; err != nil {
			return services.Target{}, err
		}
		return services.FolderTarget(&folder), nil
	}
	return services.Target{}, fmt.Errorf("share %s targets neither file nor folder: %w", share.ID, services.ErrIntegrityViolation)
}

func (h *SharesHandler) ListSharedWithMe(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	now := time.Now()

	var total int64
	err := h.DB.Model(&models.Share{}).
		Where("shared_with_id = ?", currentUser.ID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Count(&total).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing shares")
	}

	var shares []models.Share
	err = h.DB.
		Preload("File").
		Preload("Folder").
		Preload("SharedBy").
		Where("shared_with_id = ?", currentUser.ID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&shares).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing shares")
	}

	return utils.Paginated(c, shares, page, limit, total)
}

// resolveGuestShare looks a guest link up by its plain token. Guest
// flows bypass the permission context entirely; the token is the
// capability.
func (h *SharesHandler) resolveGuestShare(c *fiber.Ctx) (*models.Share, error) {
	digest := sha256.Sum256([]byte(c.Params("token")))
	hash := hex.EncodeToString(digest[:])

	var share models.Share
	err := h.DB.
		Preload("File").
		Preload("Folder").
		Where("token_hash = ?", hash).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		First(&share).Error
	if err != nil {
		return nil, err
	}
	return &share, nil
}

func (h *SharesHandler) PublicGet(c *fiber.Ctx) error {
	share, err := h.resolveGuestShare(c)
	if err != nil {
		return utils.Error(c, fiber.StatusNotFound, "share not found or expired")
	}
	return utils.Success(c, fiber.StatusOK, share)
}

func (h *SharesHandler) PublicDownload(c *fiber.Ctx) error {
	share, err := h.resolveGuestShare(c)
	if err != nil {
		return utils.Error(c, fiber.StatusNotFound, "share not found or expired")
	}
	if share.FileID == nil || share.File == nil {
		return utils.Error(c, fiber.StatusBadRequest, "share does not target a file")
	}

	obj, err := h.Storage.Download(c.Context(), share.File.R2ObjectKey)
	if err != nil {
		return utils.Error(c, fiber.StatusBadGateway, "failed fetching file")
	}

	c.Set("Content-Type", share.File.MimeType)
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", share.File.Name))
	return c.SendStream(obj, int(share.File.SizeBytes))
}
