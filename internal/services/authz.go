package services

import (
	"context"

	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/pkg/logger"
)

type Action string

const (
	ActionRead        Action = "read"
	ActionDownload    Action = "download"
	ActionList        Action = "list"
	ActionRename      Action = "rename"
	ActionMove        Action = "move"
	ActionEditContent Action = "edit"
	ActionCreateChild Action = "create_child"
	ActionDelete      Action = "delete"
	ActionShare       Action = "share"
	ActionRestore     Action = "restore"
	ActionPurge       Action = "purge"
)

// requirementFor maps an action to the share level that satisfies it.
// ownerOnly actions are never satisfied by a share, only by ownership
// or a global role permission.
func requirementFor(action Action) (level PermissionLevel, ownerOnly bool) {
	switch action {
	case ActionRead, ActionDownload, ActionList:
		return LevelView, false
	case ActionRename, ActionMove, ActionEditContent, ActionCreateChild:
		return LevelEdit, false
	default:
		// delete, share, restore, purge
		return LevelOwner, true
	}
}

// slugFor returns the global role-permission slug that bypasses
// ownership for an action, or "" when no such slug exists.
func slugFor(action Action, targetType TargetType) string {
	var suffix string
	switch action {
	case ActionRead, ActionDownload, ActionList:
		suffix = "read.any"
	case ActionDelete, ActionRestore:
		suffix = "delete.any"
	case ActionPurge:
		suffix = "purge.any"
	default:
		return ""
	}
	if targetType == TargetFolder {
		return "folders." + suffix
	}
	return "files." + suffix
}

// Authorizer decides, for a (context, action, target) triple, whether
// the operation is permitted. First match wins: active account, then
// ownership, then a global role permission, then the share resolver.
type Authorizer struct {
	Resolver *ShareResolver
}

func NewAuthorizer(resolver *ShareResolver) *Authorizer {
	return &Authorizer{Resolver: resolver}
}

func (a *Authorizer) Can(ctx context.Context, pctx *PermissionContext, action Action, target Target) Decision {
	if !pctx.Authenticated() {
		return Deny(DenyUnauthenticated)
	}

	if pctx.Status != models.UserStatusActive {
		return Deny(DenyAccountDisabled)
	}

	if target.OwnerID == pctx.UserID {
		return Allow()
	}

	if slug := slugFor(action, target.Type); slug != "" && pctx.HasPermission(slug) {
		return Allow()
	}

	required, ownerOnly := requirementFor(action)

	res, err := a.Resolver.Resolve(ctx, pctx, target)
	if err != nil {
		// Integrity or read failure: fail closed.
		logger.WarnWithUser(pctx.UserID.String(), "share_resolution_failed", map[string]interface{}{
			"action":    string(action),
			"target_id": target.ID.String(),
			"error":     err.Error(),
		})
		return Deny(DenyNoShare)
	}

	if res.Found {
		if !ownerOnly && res.Level >= required {
			return Allow()
		}
		return Deny(DenyInsufficientShareLevel)
	}
	if res.SawExpired {
		return Deny(DenyShareExpired)
	}
	if ownerOnly {
		return Deny(DenyNotOwner)
	}
	return Deny(DenyNoShare)
}
