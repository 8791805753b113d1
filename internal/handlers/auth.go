package handlers

import (
	"strings"

	"github.com/driftbox/backend/internal/middleware"
	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/driftbox/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuthHandler struct {
	DB *gorm.DB
}

func NewAuthHandler(db *gorm.DB) *AuthHandler {
	return &AuthHandler{DB: db}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return utils.Error(c, fiber.StatusBadRequest, "valid email is required")
	}
	if len(req.Password) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "display name is required")
	}

	var existing int64
	h.DB.Model(&models.User{}).Where("email = ?", req.Email).Count(&existing)
	if existing > 0 {
		return utils.Error(c, fiber.StatusConflict, "email already registered")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed hashing password")
	}

	var userRole models.Role
	if err := h.DB.Where("name = ?", "user").First(&userRole).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "default role missing")
	}

	user := models.User{
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Status:       models.UserStatusActive,
		Roles:        []models.Role{userRole},
	}
	if err := h.DB.Create(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	token, err := utils.GenerateToken(&user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.InfoWithUser(user.ID.String(), "user_registered", map[string]interface{}{
		"email": user.Email,
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"token": token,
		"user":  user,
	})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var user models.User
	err := h.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error
	if err != nil || !utils.CheckPassword(req.Password, user.PasswordHash) {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	if !user.Active() {
		logger.WarnWithUser(user.ID.String(), "login_rejected_inactive", map[string]interface{}{
			"status": string(user.Status),
		})
		return utils.Error(c, fiber.StatusForbidden, "account disabled")
	}

	token, err := utils.GenerateToken(&user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"user":  user,
	})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, user)
}

// LogoutAll bumps the user's token version, invalidating every
// previously issued token.
func (h *AuthHandler) LogoutAll(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	err := h.DB.Model(&models.User{}).
		Where("id = ?", user.ID).
		UpdateColumn("token_version", gorm.Expr("token_version + 1")).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking sessions")
	}

	logger.InfoWithUser(user.ID.String(), "sessions_revoked", nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "all sessions revoked"})
}
