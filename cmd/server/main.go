package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"sieve-backend/internal/auth"
	"sieve-backend/internal/config"
	"sieve-backend/internal/engine"
	"sieve-backend/internal/metadata"
	"sieve-backend/internal/search"
	"sieve-backend/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s, db: %s)", cfg.Server.Port, cfg.Database.Driver, cfg.Database.Name)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables and seed the admin user
	if err := db.Bootstrap(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Load entity metadata
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(cfg.Metadata.Path, reg); err != nil {
		log.Fatalf("Failed to load metadata: %v", err)
	}

	// 5. Migrate entity tables
	migrator := store.NewMigrator(db)
	if err := migrator.MigrateAll(ctx, reg.AllEntities()); err != nil {
		log.Fatalf("Failed to migrate entity tables: %v", err)
	}

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 7. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 8. Auth routes (login/refresh are public)
	authMW := auth.Middleware(cfg.JWTSecret)
	adminMW := auth.RequireAdmin()
	auth.RegisterRoutes(app, auth.NewHandler(db, cfg.JWTSecret), authMW)

	// 9. Saved searches before the dynamic routes, so /saved-searches is
	// not captured by the /:entity wildcard.
	search.RegisterRoutes(app, search.NewHandler(db, reg), authMW)

	// 10. Dynamic entity routes
	engine.RegisterRoutes(app, engine.NewHandler(db, reg), authMW, adminMW)

	// 11. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL",
			Status:  code,
			Message: "Internal server error",
		},
	})
}
