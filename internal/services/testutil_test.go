package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var testSetupOnce sync.Once

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Permission{},
		&models.Role{},
		&models.Folder{},
		&models.File{},
		&models.Share{},
		&models.Activity{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func createUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	user := &models.User{
		Email:        email,
		PasswordHash: "hash",
		DisplayName:  email,
		Status:       models.UserStatusActive,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", email, err)
	}
	return user
}

func createRoleWithSlugs(t *testing.T, db *gorm.DB, name string, slugs ...string) *models.Role {
	t.Helper()
	role := &models.Role{Name: name}
	for _, slug := range slugs {
		role.Permissions = append(role.Permissions, models.Permission{Slug: slug})
	}
	if err := db.Create(role).Error; err != nil {
		t.Fatalf("failed creating role %s: %v", name, err)
	}
	return role
}

func assignRole(t *testing.T, db *gorm.DB, user *models.User, role *models.Role) {
	t.Helper()
	if err := db.Model(user).Association("Roles").Append(role); err != nil {
		t.Fatalf("failed assigning role: %v", err)
	}
}

func createFolder(t *testing.T, db *gorm.DB, owner *models.User, parent *models.Folder, name string) *models.Folder {
	t.Helper()
	folder := &models.Folder{
		Name:    name,
		OwnerID: owner.ID,
	}
	if parent != nil {
		folder.ParentID = &parent.ID
	}
	if err := db.Create(folder).Error; err != nil {
		t.Fatalf("failed creating folder %s: %v", name, err)
	}
	return folder
}

func createFile(t *testing.T, db *gorm.DB, owner *models.User, folder *models.Folder, name string, size int64) *models.File {
	t.Helper()
	file := &models.File{
		Name:        name,
		MimeType:    "text/plain",
		SizeBytes:   size,
		OwnerID:     owner.ID,
		R2ObjectKey: fmt.Sprintf("%s/%s", owner.ID, uuid.New()),
		Status:      models.FileStatusActive,
	}
	if folder != nil {
		file.FolderID = &folder.ID
	}
	if err := db.Create(file).Error; err != nil {
		t.Fatalf("failed creating file %s: %v", name, err)
	}
	return file
}

func shareFileWith(t *testing.T, db *gorm.DB, file *models.File, by, with *models.User, perm models.SharePermission, expiresAt *time.Time) *models.Share {
	t.Helper()
	share := &models.Share{
		FileID:       &file.ID,
		SharedByID:   by.ID,
		SharedWithID: &with.ID,
		Permission:   perm,
		ExpiresAt:    expiresAt,
	}
	if err := db.Create(share).Error; err != nil {
		t.Fatalf("failed creating file share: %v", err)
	}
	return share
}

func shareFolderWith(t *testing.T, db *gorm.DB, folder *models.Folder, by, with *models.User, perm models.SharePermission, expiresAt *time.Time) *models.Share {
	t.Helper()
	share := &models.Share{
		FolderID:     &folder.ID,
		SharedByID:   by.ID,
		SharedWithID: &with.ID,
		Permission:   perm,
		ExpiresAt:    expiresAt,
	}
	if err := db.Create(share).Error; err != nil {
		t.Fatalf("failed creating folder share: %v", err)
	}
	return share
}

func buildContext(t *testing.T, db *gorm.DB, user *models.User) *PermissionContext {
	t.Helper()
	pctx, err := NewContextBuilder(db).Build(context.Background(), user)
	if err != nil {
		t.Fatalf("failed building permission context: %v", err)
	}
	return pctx
}

// fakeObjectStore stands in for the remote store in lifecycle tests.
// Delete on an absent key succeeds, matching the real client.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string]bool
	failing bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string]bool)}
}

func (f *fakeObjectStore) put(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = true
}

func (f *fakeObjectStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func (f *fakeObjectStore) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("store unreachable")
	}
	delete(f.objects, key)
	return nil
}
