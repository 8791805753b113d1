package services

import (
	"context"
	"time"

	"github.com/driftbox/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PermissionLevel int

const (
	LevelNone PermissionLevel = iota
	LevelView
	LevelEdit
	LevelOwner
)

func levelOf(p models.SharePermission) PermissionLevel {
	switch p {
	case models.SharePermissionView:
		return LevelView
	case models.SharePermissionEdit:
		return LevelEdit
	default:
		return LevelNone
	}
}

// Grant is a share-derived entitlement for a single item, as captured
// by the context builder. Expired grants are kept only so denials can
// distinguish "share lapsed" from "never shared"; they grant nothing.
type Grant struct {
	Level   PermissionLevel
	Expired bool
}

// PermissionContext is an immutable per-request snapshot of a user's
// role permissions and the shares granted to them. It is built once
// per request and must never be reused across requests or users.
type PermissionContext struct {
	UserID uuid.UUID
	Status models.UserStatus

	permissions  map[string]struct{}
	fileShares   map[uuid.UUID]Grant
	folderShares map[uuid.UUID]Grant
}

// ZeroContext is the context of an unauthenticated request: every
// capability check denies. Guest-link flows are resolved by token,
// not through a context.
func ZeroContext() *PermissionContext {
	return &PermissionContext{
		permissions:  map[string]struct{}{},
		fileShares:   map[uuid.UUID]Grant{},
		folderShares: map[uuid.UUID]Grant{},
	}
}

func (p *PermissionContext) Authenticated() bool {
	return p != nil && p.UserID != uuid.Nil
}

func (p *PermissionContext) HasPermission(slug string) bool {
	if p == nil {
		return false
	}
	_, ok := p.permissions[slug]
	return ok
}

func (p *PermissionContext) FileGrant(fileID uuid.UUID) (Grant, bool) {
	if p == nil {
		return Grant{}, false
	}
	g, ok := p.fileShares[fileID]
	return g, ok
}

func (p *PermissionContext) FolderGrant(folderID uuid.UUID) (Grant, bool) {
	if p == nil {
		return Grant{}, false
	}
	g, ok := p.folderShares[folderID]
	return g, ok
}

type ContextBuilder struct {
	DB *gorm.DB
}

func NewContextBuilder(db *gorm.DB) *ContextBuilder {
	return &ContextBuilder{DB: db}
}

// Build computes the permission snapshot for a user from persisted
// state. It reads, never writes. Callers are responsible for building
// at most once per request.
func (b *ContextBuilder) Build(ctx context.Context, user *models.User) (*PermissionContext, error) {
	if user == nil {
		return ZeroContext(), nil
	}

	pctx := ZeroContext()
	pctx.UserID = user.ID
	pctx.Status = user.Status

	var slugs []string
	err := b.DB.WithContext(ctx).
		Table("permissions").
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Joins("JOIN user_roles ON user_roles.role_id = role_permissions.role_id AND user_roles.user_id = ?", user.ID).
		Distinct().
		Pluck("permissions.slug", &slugs).Error
	if err != nil {
		return nil, err
	}
	for _, slug := range slugs {
		pctx.permissions[slug] = struct{}{}
	}

	var shares []models.Share
	err = b.DB.WithContext(ctx).
		Where("shared_with_id = ?", user.ID).
		Find(&shares).Error
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, share := range shares {
		grant := Grant{Level: levelOf(share.Permission), Expired: share.Expired(now)}
		switch {
		case share.FileID != nil:
			mergeGrant(pctx.fileShares, *share.FileID, grant)
		case share.FolderID != nil:
			mergeGrant(pctx.folderShares, *share.FolderID, grant)
		}
	}

	return pctx, nil
}

// mergeGrant keeps the strongest live grant per item: any unexpired
// grant beats an expired one, and edit beats view. Who granted it is
// irrelevant to resolution.
func mergeGrant(m map[uuid.UUID]Grant, id uuid.UUID, grant Grant) {
	existing, ok := m[id]
	if !ok {
		m[id] = grant
		return
	}
	if existing.Expired && !grant.Expired {
		m[id] = grant
		return
	}
	if existing.Expired == grant.Expired && grant.Level > existing.Level {
		m[id] = grant
	}
}
