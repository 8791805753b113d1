package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftbox/backend/internal/config"
	"github.com/driftbox/backend/internal/database"
	"github.com/driftbox/backend/internal/handlers"
	"github.com/driftbox/backend/internal/middleware"
	"github.com/driftbox/backend/internal/services"
	"github.com/driftbox/backend/internal/storage"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/driftbox/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.NewR2Client(cfg.R2)
	if err != nil {
		log.Fatalf("object store initialization failed: %v", err)
	}
	if err := storageClient.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring bucket: %v", err)
	}

	contextBuilder := services.NewContextBuilder(db)
	resolver := services.NewShareResolver(db)
	authorizer := services.NewAuthorizer(resolver)
	activityService := services.NewActivityService(db, cfg.Activity.QueueBufferSize)
	trashService := services.NewTrashService(db, storageClient, authorizer, activityService, cfg.Trash.Retention)

	sweeper := services.NewSweeper(trashService, cfg.Trash)
	sweeper.Start()

	authHandler := handlers.NewAuthHandler(db)
	filesHandler := handlers.NewFilesHandler(db, storageClient, authorizer, trashService, activityService)
	foldersHandler := handlers.NewFoldersHandler(db, authorizer, trashService, activityService)
	sharesHandler := handlers.NewSharesHandler(db, storageClient, authorizer, activityService)
	trashHandler := handlers.NewTrashHandler(db, trashService)

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

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		sweeper.Stop()
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
