package middleware

import (
	"errors"
	"strings"

	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/internal/services"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/driftbox/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/gorm"
)

const (
	currentUserKey       = "currentUser"
	permissionContextKey = "permissionContext"
)

type AuthMiddleware struct {
	DB      *gorm.DB
	Builder *services.ContextBuilder
}

func NewAuthMiddleware(db *gorm.DB, builder *services.ContextBuilder) *AuthMiddleware {
	return &AuthMiddleware{DB: db, Builder: builder}
}

func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: "http://localhost:3001,http://127.0.0.1:3001",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	})
}

// RequireAuth authenticates the bearer token, rejects disabled
// accounts and stale token versions, and builds the request's
// permission context exactly once. The context lives in fiber Locals
// and dies with the request; it is never shared across requests.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if tokenString == authHeader || tokenString == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}

	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		logger.Warn("jwt_validation_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		return sessionError(c, nil, services.ErrUnauthenticated)
	}

	if err := services.VerifySession(&user, claims.TokenVersion); err != nil {
		return sessionError(c, &user, err)
	}

	pctx, err := a.Builder.Build(c.Context(), &user)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "permission_context_build_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading permissions")
	}

	c.Locals(currentUserKey, &user)
	c.Locals(permissionContextKey, pctx)
	c.Locals("userID", user.ID.String())
	return c.Next()
}

// sessionError maps the session error taxonomy to HTTP responses.
func sessionError(c *fiber.Ctx, user *models.User, err error) error {
	switch {
	case errors.Is(err, services.ErrTokenRevoked):
		logger.WarnWithUser(user.ID.String(), "token_revoked", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "token revoked")
	case errors.Is(err, services.ErrAccountDisabled):
		logger.WarnWithUser(user.ID.String(), "disabled_account_rejected", map[string]interface{}{
			"status": string(user.Status),
			"path":   c.Path(),
		})
		return utils.Error(c, fiber.StatusForbidden, "account disabled")
	default:
		return utils.Error(c, fiber.StatusUnauthorized, "user not found")
	}
}

func (a *AuthMiddleware) OptionalAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Next()
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if tokenString == authHeader || tokenString == "" {
		return c.Next()
	}

	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		return c.Next()
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		return c.Next()
	}
	if services.VerifySession(&user, claims.TokenVersion) != nil {
		return c.Next()
	}

	pctx, err := a.Builder.Build(c.Context(), &user)
	if err != nil {
		return c.Next()
	}

	c.Locals(currentUserKey, &user)
	c.Locals(permissionContextKey, pctx)
	c.Locals("userID", user.ID.String())
	return c.Next()
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetPermissionContext returns the request-scoped context, or the
// zero context when the request is unauthenticated.
func GetPermissionContext(c *fiber.Ctx) *services.PermissionContext {
	value := c.Locals(permissionContextKey)
	if value == nil {
		return services.ZeroContext()
	}
	pctx, ok := value.(*services.PermissionContext)
	if !ok {
		return services.ZeroContext()
	}
	return pctx
}
