package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ObjectStore is the slice of the remote store the lifecycle manager
// needs. Delete must be idempotent: deleting an absent object is
// success.
type ObjectStore interface {
	Delete(ctx context.Context, key string) error
}

// TrashService owns the Active -> Trashed -> Purged lifecycle.
// Soft delete never touches the remote object and never changes
// quota; space is reclaimed on purge only. Purge orders the remote
// delete before the row delete so a failure leaves the row Trashed
// and a later sweep can resolve it forward.
type TrashService struct {
	DB        *gorm.DB
	Store     ObjectStore
	Authz     *Authorizer
	Activity  *ActivityService
	Retention time.Duration
}

func NewTrashService(db *gorm.DB, store ObjectStore, authz *Authorizer, activity *ActivityService, retention time.Duration) *TrashService {
	return &TrashService{
		DB:        db,
		Store:     store,
		Authz:     authz,
		Activity:  activity,
		Retention: retention,
	}
}

type BulkDeleteResult struct {
	DeletedFiles   int64 `json:"deletedFiles"`
	DeletedFolders int64 `json:"deletedFolders"`
}

type SweepResult struct {
	PurgedFiles   int64
	PurgedFolders int64
	Failed        int64
}

func (t *TrashService) SoftDeleteFile(ctx context.Context, pctx *PermissionContext, fileID uuid.UUID) error {
	var file models.File
	if err := t.DB.WithContext(ctx).First(&file, "id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if d := t.Authz.Can(ctx, pctx, ActionDelete, FileTarget(&file)); !d.Allowed {
		return &ForbiddenError{Reason: d.Reason, Item: "file " + file.ID.String()}
	}

	now := time.Now().UTC()
	err := t.DB.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ?", file.ID).
		Update("deleted_at", now).Error
	if err != nil {
		return err
	}

	t.Activity.Record(ActivityEntry{
		UserID:       &pctx.UserID,
		Action:       "file.trash",
		ResourceType: "file",
		ResourceID:   &file.ID,
		Metadata:     map[string]interface{}{"name": file.Name},
	})
	return nil
}

func (t *TrashService) SoftDeleteFolder(ctx context.Context, pctx *PermissionContext, folderUUID uuid.UUID) error {
	var folder models.Folder
	if err := t.DB.WithContext(ctx).First(&folder, "uuid = ?", folderUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if d := t.Authz.Can(ctx, pctx, ActionDelete, FolderTarget(&folder)); !d.Allowed {
		return &ForbiddenError{Reason: d.Reason, Item: "folder " + folder.UUID.String()}
	}

	now := time.Now().UTC()
	err := t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, _, err := softDeleteFolderTree(tx, folder.ID, now)
		return err
	})
	if err != nil {
		return err
	}

	t.Activity.Record(ActivityEntry{
		UserID:       &pctx.UserID,
		Action:       "folder.trash",
		ResourceType: "folder",
		ResourceID:   &folder.ID,
		Metadata:     map[string]interface{}{"name": folder.Name},
	})
	return nil
}

// BulkDelete soft-deletes a batch of files and folders all-or-nothing:
// every target is authorized before any row is touched, and a single
// transaction covers all mutations. Unknown folder UUIDs and file ids
// are skipped, not errors, so batches referencing already-deleted
// items still succeed for their remaining members.
func (t *TrashService) BulkDelete(ctx context.Context, pctx *PermissionContext, fileIDs []uuid.UUID, folderUUIDs []uuid.UUID) (BulkDeleteResult, error) {
	var result BulkDeleteResult

	var files []models.File
	if len(fileIDs) > 0 {
		if err := t.DB.WithContext(ctx).Where("id IN ?", fileIDs).Find(&files).Error; err != nil {
			return result, err
		}
	}

	var folders []models.Folder
	if len(folderUUIDs) > 0 {
		if err := t.DB.WithContext(ctx).Where("uuid IN ?", folderUUIDs).Find(&folders).Error; err != nil {
			return result, err
		}
	}

	for i := range files {
		if d := t.Authz.Can(ctx, pctx, ActionDelete, FileTarget(&files[i])); !d.Allowed {
			return result, &ForbiddenError{Reason: d.Reason, Item: "file " + files[i].ID.String()}
		}
	}
	for i := range folders {
		if d := t.Authz.Can(ctx, pctx, ActionDelete, FolderTarget(&folders[i])); !d.Allowed {
			return result, &ForbiddenError{Reason: d.Reason, Item: "folder " + folders[i].UUID.String()}
		}
	}

	now := time.Now().UTC()
	err := t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range folders {
			trashedFiles, trashedFolders, err := softDeleteFolderTree(tx, folders[i].ID, now)
			if err != nil {
				return err
			}
			result.DeletedFiles += trashedFiles
			result.DeletedFolders += trashedFolders
		}

		if len(files) > 0 {
			ids := make([]uuid.UUID, len(files))
			for i := range files {
				ids[i] = files[i].ID
			}
			res := tx.Model(&models.File{}).Where("id IN ?", ids).Update("deleted_at", now)
			if res.Error != nil {
				return res.Error
			}
			result.DeletedFiles += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return BulkDeleteResult{}, err
	}

	t.Activity.Record(ActivityEntry{
		UserID:       &pctx.UserID,
		Action:       "trash.bulk_delete",
		ResourceType: "trash",
		Metadata: map[string]interface{}{
			"deleted_files":   result.DeletedFiles,
			"deleted_folders": result.DeletedFolders,
		},
	})
	return result, nil
}

func (t *TrashService) RestoreFile(ctx context.Context, pctx *PermissionContext, fileID uuid.UUID) error {
	var file models.File
	err := t.DB.WithContext(ctx).Unscoped().
		First(&file, "id = ? AND deleted_at IS NOT NULL", fileID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if d := t.Authz.Can(ctx, pctx, ActionRestore, FileTarget(&file)); !d.Allowed {
		return &ForbiddenError{Reason: d.Reason, Item: "file " + file.ID.String()}
	}

	err = t.DB.WithContext(ctx).Unscoped().
		Model(&models.File{}).
		Where("id = ?", file.ID).
		Update("deleted_at", nil).Error
	if err != nil {
		return err
	}

	t.Activity.Record(ActivityEntry{
		UserID:       &pctx.UserID,
		Action:       "file.restore",
		ResourceType: "file",
		ResourceID:   &file.ID,
		Metadata:     map[string]interface{}{"name": file.Name},
	})
	return nil
}

// RestoreFolder clears deleted_at on the folder and on every
// descendant trashed by the same cascade. Cascaded rows share the
// root's deletion timestamp; descendants trashed independently carry
// a different one and stay in the trash.
func (t *TrashService) RestoreFolder(ctx context.Context, pctx *PermissionContext, folderUUID uuid.UUID) error {
	var folder models.Folder
	err := t.DB.WithContext(ctx).Unscoped().
		First(&folder, "uuid = ? AND deleted_at IS NOT NULL", folderUUID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if d := t.Authz.Can(ctx, pctx, ActionRestore, FolderTarget(&folder)); !d.Allowed {
		return &ForbiddenError{Reason: d.Reason, Item: "folder " + folder.UUID.String()}
	}

	trashedAt := folder.DeletedAt.Time
	err = t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := descendantFolderIDs(tx, folder.ID, true)
		if err != nil {
			return err
		}
		err = tx.Unscoped().Model(&models.Folder{}).
			Where("id IN ? AND deleted_at = ?", ids, trashedAt).
			Update("deleted_at", nil).Error
		if err != nil {
			return err
		}
		return tx.Unscoped().Model(&models.File{}).
			Where("folder_id IN ? AND deleted_at = ?", ids, trashedAt).
			Update("deleted_at", nil).Error
	})
	if err != nil {
		return err
	}

	t.Activity.Record(ActivityEntry{
		UserID:       &pctx.UserID,
		Action:       "folder.restore",
		ResourceType: "folder",
		ResourceID:   &folder.ID,
		Metadata:     map[string]interface{}{"name": folder.Name},
	})
	return nil
}

// PurgeFile permanently removes a trashed file: remote object first,
// then the row, then the owner's quota. A purge of an id that no
// longer exists reports ErrNotFound, which makes concurrent purges of
// the same item safe.
func (t *TrashService) PurgeFile(ctx context.Context, pctx *PermissionContext, fileID uuid.UUID) error {
	var file models.File
	err := t.DB.WithContext(ctx).Unscoped().
		First(&file, "id = ? AND deleted_at IS NOT NULL", fileID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if d := t.Authz.Can(ctx, pctx, ActionPurge, FileTarget(&file)); !d.Allowed {
		return &ForbiddenError{Reason: d.Reason, Item: "file " + file.ID.String()}
	}

	if err := t.purgeFileRow(ctx, &file); err != nil {
		return err
	}

	t.Activity.Record(ActivityEntry{
		UserID:       &pctx.UserID,
		Action:       "file.purge",
		ResourceType: "file",
		ResourceID:   &file.ID,
		Metadata:     map[string]interface{}{"name": file.Name, "size_bytes": file.SizeBytes},
	})
	return nil
}

func (t *TrashService) PurgeFolder(ctx context.Context, pctx *PermissionContext, folderUUID uuid.UUID) error {
	var folder models.Folder
	err := t.DB.WithContext(ctx).Unscoped().
		First(&folder, "uuid = ? AND deleted_at IS NOT NULL", folderUUID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if d := t.Authz.Can(ctx, pctx, ActionPurge, FolderTarget(&folder)); !d.Allowed {
		return &ForbiddenError{Reason: d.Reason, Item: "folder " + folder.UUID.String()}
	}

	purgedFiles, purgedFolders, err := t.purgeFolderTree(ctx, folder.ID)
	if err != nil {
		return err
	}

	t.Activity.Record(ActivityEntry{
		UserID:       &pctx.UserID,
		Action:       "folder.purge",
		ResourceType: "folder",
		ResourceID:   &folder.ID,
		Metadata: map[string]interface{}{
			"name":           folder.Name,
			"purged_files":   purgedFiles,
			"purged_folders": purgedFolders,
		},
	})
	return nil
}

// SweepExpired force-deletes every trashed item past the retention
// threshold. It is idempotent and safe to re-run after interruption:
// already-purged rows are simply absent from the next selection, and
// a store failure leaves the item trashed for the next sweep.
func (t *TrashService) SweepExpired(ctx context.Context) (SweepResult, error) {
	cutoff := time.Now().UTC().Add(-t.Retention)
	var result SweepResult

	var folders []models.Folder
	err := t.DB.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Find(&folders).Error
	if err != nil {
		return result, err
	}

	for i := range folders {
		// May already be gone, purged as a descendant of an earlier
		// folder in this sweep.
		var exists int64
		err := t.DB.WithContext(ctx).Unscoped().
			Model(&models.Folder{}).
			Where("id = ?", folders[i].ID).
			Count(&exists).Error
		if err != nil {
			return result, err
		}
		if exists == 0 {
			continue
		}

		purgedFiles, purgedFolders, err := t.purgeFolderTree(ctx, folders[i].ID)
		result.PurgedFiles += purgedFiles
		result.PurgedFolders += purgedFolders
		if err != nil {
			result.Failed++
			logger.Error("trash_sweep_folder_failed", err, map[string]interface{}{
				"folder_id": folders[i].ID.String(),
			})
		}
	}

	var files []models.File
	err = t.DB.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Find(&files).Error
	if err != nil {
		return result, err
	}

	for i := range files {
		if err := t.purgeFileRow(ctx, &files[i]); err != nil {
			result.Failed++
			logger.Error("trash_sweep_file_failed", err, map[string]interface{}{
				"file_id": files[i].ID.String(),
			})
			continue
		}
		result.PurgedFiles++
	}

	return result, nil
}

// CleanupStaleUploads reaps file rows stuck in the uploading state
// longer than age: the upload never completed, so the row and any
// partial object are removed and the reserved quota released.
func (t *TrashService) CleanupStaleUploads(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	var files []models.File
	err := t.DB.WithContext(ctx).Unscoped().
		Where("status = ? AND created_at < ?", models.FileStatusUploading, cutoff).
		Find(&files).Error
	if err != nil {
		return 0, err
	}

	var reaped int64
	for i := range files {
		if err := t.purgeFileRow(ctx, &files[i]); err != nil {
			logger.Error("stale_upload_cleanup_failed", err, map[string]interface{}{
				"file_id": files[i].ID.String(),
			})
			continue
		}
		reaped++
	}
	return reaped, nil
}

// purgeFileRow is the two-phase permanent delete: the remote object
// goes first, and the row (plus quota reclaim) commits only after the
// remote side resolved favorably. If the store call fails the row is
// untouched and a retry can always resolve forward.
func (t *TrashService) purgeFileRow(ctx context.Context, file *models.File) error {
	if err := t.Store.Delete(ctx, file.R2ObjectKey); err != nil {
		return fmt.Errorf("%w: deleting object %s: %v", ErrStoreUnavailable, file.R2ObjectKey, err)
	}

	return t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().Where("id = ?", file.ID).Delete(&models.File{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a race with a concurrent purge; nothing to reclaim.
			return nil
		}
		return tx.Model(&models.User{}).
			Where("id = ?", file.OwnerID).
			UpdateColumn("quota_used_bytes", gorm.Expr(
				"CASE WHEN quota_used_bytes >= ? THEN quota_used_bytes - ? ELSE 0 END",
				file.SizeBytes, file.SizeBytes,
			)).Error
	})
}

// purgeFolderTree removes a folder subtree permanently, deepest
// folders first, files before their folder row, so an interruption
// never leaves child metadata under a purged parent.
func (t *TrashService) purgeFolderTree(ctx context.Context, rootID uuid.UUID) (int64, int64, error) {
	ids, err := descendantFolderIDs(t.DB.WithContext(ctx), rootID, true)
	if err != nil {
		return 0, 0, err
	}

	var purgedFiles, purgedFolders int64
	for i := len(ids) - 1; i >= 0; i-- {
		var files []models.File
		err := t.DB.WithContext(ctx).Unscoped().
			Where("folder_id = ?", ids[i]).
			Find(&files).Error
		if err != nil {
			return purgedFiles, purgedFolders, err
		}

		for j := range files {
			if err := t.purgeFileRow(ctx, &files[j]); err != nil {
				return purgedFiles, purgedFolders, err
			}
			purgedFiles++
		}

		res := t.DB.WithContext(ctx).Unscoped().Where("id = ?", ids[i]).Delete(&models.Folder{})
		if res.Error != nil {
			return purgedFiles, purgedFolders, res.Error
		}
		purgedFolders += res.RowsAffected
	}
	return purgedFiles, purgedFolders, nil
}

// softDeleteFolderTree stamps a folder subtree with one shared
// deletion timestamp inside the caller's transaction. Rows already in
// the trash keep their original timestamp.
func softDeleteFolderTree(tx *gorm.DB, rootID uuid.UUID, now time.Time) (int64, int64, error) {
	ids, err := descendantFolderIDs(tx, rootID, false)
	if err != nil {
		return 0, 0, err
	}

	foldersRes := tx.Model(&models.Folder{}).Where("id IN ?", ids).Update("deleted_at", now)
	if foldersRes.Error != nil {
		return 0, 0, foldersRes.Error
	}

	filesRes := tx.Model(&models.File{}).Where("folder_id IN ?", ids).Update("deleted_at", now)
	if filesRes.Error != nil {
		return 0, 0, filesRes.Error
	}

	return filesRes.RowsAffected, foldersRes.RowsAffected, nil
}

// descendantFolderIDs collects a folder subtree breadth-first, root
// first, with the same depth bound and cycle guard as the share
// resolver's ancestor walk.
func descendantFolderIDs(tx *gorm.DB, rootID uuid.UUID, includeTrashed bool) ([]uuid.UUID, error) {
	ids := []uuid.UUID{rootID}
	seen := map[uuid.UUID]bool{rootID: true}
	frontier := []uuid.UUID{rootID}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxFolderDepth {
			return nil, fmt.Errorf("folder tree under %s exceeds depth bound: %w", rootID, ErrIntegrityViolation)
		}

		q := tx.Model(&models.Folder{})
		if includeTrashed {
			q = q.Unscoped()
		}

		var next []uuid.UUID
		if err := q.Where("parent_id IN ?", frontier).Pluck("id", &next).Error; err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		for _, id := range next {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
			frontier = append(frontier, id)
		}
	}
	return ids, nil
}
