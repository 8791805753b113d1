package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/driftbox/backend/internal/middleware"
	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/internal/services"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/driftbox/backend/pkg/utils"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type testEnv struct {
	app   *fiber.App
	db    *gorm.DB
	store *stubObjectStore
}

// stubObjectStore replaces the remote store in handler tests. Deleting
// an absent key succeeds, matching the real client.
type stubObjectStore struct {
	mu      sync.Mutex
	objects map[string]bool
}

func newStubObjectStore() *stubObjectStore {
	return &stubObjectStore{objects: make(map[string]bool)}
}

func (s *stubObjectStore) put(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = true
}

func (s *stubObjectStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key]
}

func (s *stubObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
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

	userRole := models.Role{
		Name: "user",
		Permissions: []models.Permission{
			{Slug: "files.read"}, {Slug: "files.write"},
			{Slug: "files.delete"}, {Slug: "files.share"},
			{Slug: "folders.read"}, {Slug: "folders.write"},
			{Slug: "folders.delete"}, {Slug: "folders.share"},
		},
	}
	if err := db.Create(&userRole).Error; err != nil {
		t.Fatalf("failed seeding user role: %v", err)
	}

	store := newStubObjectStore()

	contextBuilder := services.NewContextBuilder(db)
	resolver := services.NewShareResolver(db)
	authorizer := services.NewAuthorizer(resolver)
	trashService := services.NewTrashService(db, store, authorizer, nil, 30*24*time.Hour)

	authHandler := NewAuthHandler(db)
	filesHandler := NewFilesHandler(db, nil, authorizer, trashService, nil)
	foldersHandler := NewFoldersHandler(db, authorizer, trashService, nil)
	sharesHandler := NewSharesHandler(db, nil, authorizer, nil)
	trashHandler := NewTrashHandler(db, trashService)

	authMiddleware := middleware.NewAuthMiddleware(db, contextBuilder)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Post("/logout-all", authMiddleware.RequireAuth, authHandler.LogoutAll)

	fileRoutes := api.Group("/files", authMiddleware.RequireAuth)
	fileRoutes.Post("/upload", filesHandler.Upload)
	fileRoutes.Get("/:id/download", filesHandler.Download)
	fileRoutes.Post("/:id/share", sharesHandler.ShareFile)
	fileRoutes.Get("/:id", filesHandler.Get)
	fileRoutes.Put("/:id", filesHandler.Update)
	fileRoutes.Delete("/:id/purge", filesHandler.Purge)
	fileRoutes.Delete("/:id", filesHandler.Delete)

	folderRoutes := api.Group("/folders", authMiddleware.RequireAuth)
	folderRoutes.Post("/", foldersHandler.Create)
	folderRoutes.Get("/", foldersHandler.ListRoot)
	folderRoutes.Get("/:uuid/children", foldersHandler.Children)
	folderRoutes.Post("/:uuid/share", sharesHandler.ShareFolder)
	folderRoutes.Delete("/:uuid/purge", foldersHandler.Purge)
	folderRoutes.Delete("/:uuid", foldersHandler.Delete)

	trashRoutes := api.Group("/trash", authMiddleware.RequireAuth)
	trashRoutes.Get("/", trashHandler.List)
	trashRoutes.Post("/bulk-delete", trashHandler.BulkDelete)
	trashRoutes.Post("/:type/:id/restore", trashHandler.Restore)
	trashRoutes.Delete("/", trashHandler.Empty)

	shareRoutes := api.Group("/shares", authMiddleware.RequireAuth)
	shareRoutes.Delete("/:id", sharesHandler.DeleteShare)

	api.Get("/shared", authMiddleware.RequireAuth, sharesHandler.ListSharedWithMe)

	api.Get("/public/shares/:token/download", sharesHandler.PublicDownload)
	api.Get("/public/shares/:token", sharesHandler.PublicGet)

	return &testEnv{app: app, db: db, store: store}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	var role models.Role
	if err := db.Where("name = ?", "user").First(&role).Error; err != nil {
		t.Fatalf("failed loading user role: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  email,
		Status:       models.UserStatusActive,
		Roles:        []models.Role{role},
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func createTestFile(t *testing.T, env *testEnv, owner *models.User, folder *models.Folder, name string, size int64) *models.File {
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
	if err := env.db.Create(file).Error; err != nil {
		t.Fatalf("failed creating test file: %v", err)
	}
	env.store.put(file.R2ObjectKey)
	return file
}

func createTestFolder(t *testing.T, db *gorm.DB, owner *models.User, parent *models.Folder, name string) *models.Folder {
	t.Helper()

	folder := &models.Folder{
		Name:    name,
		OwnerID: owner.ID,
	}
	if parent != nil {
		folder.ParentID = &parent.ID
	}
	if err := db.Create(folder).Error; err != nil {
		t.Fatalf("failed creating test folder: %v", err)
	}
	return folder
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertErrorResponse(t *testing.T, statusCode int, body map[string]any, expectedStatus int, expectedMessage string) {
	t.Helper()

	if statusCode != expectedStatus {
		t.Fatalf("expected status code %d, got %d", expectedStatus, statusCode)
	}

	success, ok := body["success"].(bool)
	if !ok {
		t.Fatalf("expected success field to be boolean, got %T", body["success"])
	}
	if success {
		t.Fatalf("expected success=false, got %v", body["success"])
	}

	errMessage, ok := body["error"].(string)
	if !ok {
		t.Fatalf("expected error field to be string, got %T", body["error"])
	}
	if errMessage != expectedMessage {
		t.Fatalf("expected error message %q, got %q", expectedMessage, errMessage)
	}
}

func dataObject(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", body["data"])
	}
	return data
}
