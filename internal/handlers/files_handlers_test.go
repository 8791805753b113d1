package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/driftbox/backend/internal/models"
)

func TestFileAccess(t *testing.T) {
	env := setupTestEnv(t)

	owner, ownerToken := createTestUser(t, env.db, "owner@test.com", "password123")
	other, otherToken := createTestUser(t, env.db, "other@test.com", "password123")

	file := createTestFile(t, env, owner, nil, "report.pdf", 1024)
	filePath := "/api/files/" + file.ID.String()

	t.Run("owner can read their file", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, filePath, nil, authHeaders(ownerToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data := dataObject(t, body)
		if data["name"] != "report.pdf" {
			t.Errorf("expected file name in response, got %v", data["name"])
		}
	})

	t.Run("stranger is denied", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, filePath, nil, authHeaders(otherToken))
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusForbidden, "access denied")
	})

	t.Run("view share grants read but not rename", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, filePath+"/share", map[string]any{
			"userID":     other.ID.String(),
			"permission": "view",
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)
		resp.Body.Close()

		resp = performRequest(t, env.app, http.MethodGet, filePath, nil, authHeaders(otherToken))
		assertStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		resp = performJSONRequest(t, env.app, http.MethodPut, filePath, map[string]any{
			"name": "hijacked.pdf",
		}, authHeaders(otherToken))
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusForbidden, "access denied")
	})

	t.Run("sharee cannot delete even with a share", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, filePath, nil, authHeaders(otherToken))
		assertStatus(t, resp, http.StatusForbidden)
		resp.Body.Close()

		var count int64
		env.db.Model(&models.File{}).Where("id = ?", file.ID).Count(&count)
		if count != 1 {
			t.Error("denied delete must leave the file live")
		}
	})

	t.Run("sharee cannot re-share", func(t *testing.T) {
		third, _ := createTestUser(t, env.db, "third@test.com", "password123")
		resp := performJSONRequest(t, env.app, http.MethodPost, filePath+"/share", map[string]any{
			"userID":     third.ID.String(),
			"permission": "view",
		}, authHeaders(otherToken))
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusForbidden, "access denied")
	})
}

func TestFolderShareInheritance(t *testing.T) {
	env := setupTestEnv(t)

	owner, ownerToken := createTestUser(t, env.db, "owner@test.com", "password123")
	editor, editorToken := createTestUser(t, env.db, "editor@test.com", "password123")

	parent := createTestFolder(t, env.db, owner, nil, "team")
	child := createTestFolder(t, env.db, owner, parent, "docs")
	nested := createTestFile(t, env, owner, child, "notes.txt", 64)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/folders/"+parent.UUID.String()+"/share", map[string]any{
		"userID":     editor.ID.String(),
		"permission": "edit",
	}, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	t.Run("share on the parent reaches nested files", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files/"+nested.ID.String(), nil, authHeaders(editorToken))
		assertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	})

	t.Run("edit share allows rename", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files/"+nested.ID.String(), map[string]any{
			"name": "minutes.txt",
		}, authHeaders(editorToken))
		assertStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		var renamed models.File
		if err := env.db.First(&renamed, "id = ?", nested.ID).Error; err != nil {
			t.Fatalf("failed reloading file: %v", err)
		}
		if renamed.Name != "minutes.txt" {
			t.Errorf("expected rename to persist, got %q", renamed.Name)
		}
	})

	t.Run("sharee can list folder children", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/folders/"+child.UUID.String()+"/children", nil, authHeaders(editorToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data := dataObject(t, body)
		files, ok := data["files"].([]any)
		if !ok || len(files) != 1 {
			t.Errorf("expected 1 nested file, got %v", data["files"])
		}
	})

	t.Run("sharee cannot share the folder onward", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/folders/"+child.UUID.String()+"/share", map[string]any{
			"guestLink":  true,
			"permission": "view",
		}, authHeaders(editorToken))
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusForbidden, "access denied")
	})
}

func TestShareValidation(t *testing.T) {
	env := setupTestEnv(t)

	owner, ownerToken := createTestUser(t, env.db, "owner@test.com", "password123")
	file := createTestFile(t, env, owner, nil, "file.txt", 10)
	sharePath := "/api/files/" + file.ID.String() + "/share"

	t.Run("rejects unknown permission levels", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, sharePath, map[string]any{
			"userID":     owner.ID.String(),
			"permission": "admin",
		}, authHeaders(ownerToken))
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusBadRequest, "invalid permission")
	})

	t.Run("rejects sharing with yourself", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, sharePath, map[string]any{
			"userID":     owner.ID.String(),
			"permission": "view",
		}, authHeaders(ownerToken))
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusBadRequest, "cannot share with yourself")
	})

	t.Run("requires exactly one of userID or guestLink", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, sharePath, map[string]any{
			"permission": "view",
		}, authHeaders(ownerToken))
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusBadRequest, "exactly one of userID or guestLink is required")
	})

	t.Run("rejects expiry in the past", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, sharePath, map[string]any{
			"guestLink":  true,
			"permission": "view",
			"expiresAt":  "2020-01-01T00:00:00Z",
		}, authHeaders(ownerToken))
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusBadRequest, "expiry must be in the future")
	})
}

func TestListSharedWithMe(t *testing.T) {
	env := setupTestEnv(t)

	owner, ownerToken := createTestUser(t, env.db, "owner@test.com", "password123")
	recipient, recipientToken := createTestUser(t, env.db, "recipient@test.com", "password123")

	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		file := createTestFile(t, env, owner, nil, name, 10)
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/files/"+file.ID.String()+"/share", map[string]any{
			"userID":     recipient.ID.String(),
			"permission": "view",
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)
		resp.Body.Close()
	}

	// An expired share must not show up in the listing.
	expired := createTestFile(t, env, owner, nil, "expired.txt", 10)
	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/files/"+expired.ID.String()+"/share", map[string]any{
		"userID":     recipient.ID.String(),
		"permission": "view",
	}, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	past := time.Now().Add(-time.Hour)
	err := env.db.Model(&models.Share{}).
		Where("file_id = ?", expired.ID).
		Update("expires_at", past).Error
	if err != nil {
		t.Fatalf("failed expiring share: %v", err)
	}

	t.Run("pages through unexpired shares", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/shared?page=1&limit=2", nil, authHeaders(recipientToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data, ok := body["data"].([]any)
		if !ok || len(data) != 2 {
			t.Fatalf("expected 2 shares on the first page, got %v", body["data"])
		}

		pagination, ok := body["pagination"].(map[string]any)
		if !ok {
			t.Fatalf("expected pagination block, got %T", body["pagination"])
		}
		if pagination["total"] != float64(3) {
			t.Errorf("expected total 3, got %v", pagination["total"])
		}
		if pagination["totalPages"] != float64(2) {
			t.Errorf("expected 2 pages, got %v", pagination["totalPages"])
		}

		resp = performRequest(t, env.app, http.MethodGet, "/api/shared?page=2&limit=2", nil, authHeaders(recipientToken))
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if data, _ := body["data"].([]any); len(data) != 1 {
			t.Errorf("expected 1 share on the last page, got %d", len(data))
		}
	})

	t.Run("grantor sees nothing shared with them", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/shared", nil, authHeaders(ownerToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if data, _ := body["data"].([]any); len(data) != 0 {
			t.Errorf("owner should have no incoming shares, got %d", len(data))
		}
	})
}

func TestGuestLinks(t *testing.T) {
	env := setupTestEnv(t)

	owner, ownerToken := createTestUser(t, env.db, "owner@test.com", "password123")
	file := createTestFile(t, env, owner, nil, "public.txt", 10)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/files/"+file.ID.String()+"/share", map[string]any{
		"guestLink":  true,
		"permission": "edit",
	}, authHeaders(ownerToken))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusCreated)

	data := dataObject(t, body)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatal("guest link creation must return the plain token")
	}

	share, ok := data["share"].(map[string]any)
	if !ok {
		t.Fatalf("expected share object, got %T", data["share"])
	}
	if share["permission"] != "view" {
		t.Errorf("guest links are always view-only, got %v", share["permission"])
	}
	if _, present := share["tokenHash"]; present {
		t.Error("the token hash must never appear in API responses")
	}

	t.Run("plain token resolves the share without auth", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/public/shares/"+token, nil, nil)
		assertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	})

	t.Run("wrong token is not found", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/public/shares/"+fmt.Sprintf("%064d", 0), nil, nil)
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusNotFound, "share not found or expired")
	})

	t.Run("revoked link stops resolving", func(t *testing.T) {
		shareID, _ := share["id"].(string)
		resp := performRequest(t, env.app, http.MethodDelete, "/api/shares/"+shareID, nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		resp = performRequest(t, env.app, http.MethodGet, "/api/public/shares/"+token, nil, nil)
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusNotFound, "share not found or expired")
	})
}
