// Package main implements a one-shot seed command that creates a user directly
// in the DomainAlert database. It lives inside the server module so it can
// access internal/* packages.
//
// Usage:
//
//	go run ./cmd/domainalert/seed \
//	  --email admin@test.com \
//	  --password secret \
//	  --admin
//
// Environment variables:
//
//	DOMAINALERT_DB_DRIVER  sqlite or postgres (default: sqlite)
//	DOMAINALERT_DB_DSN     SQLite file path or Postgres DSN (default: ./domainalert.db)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/piowaw/domainalert/internal/auth"
	"github.com/piowaw/domainalert/internal/config"
	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/repositories"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	email := flag.String("email", "", "User email (required)")
	password := flag.String("password", "", "Plain-text password (required)")
	admin := flag.Bool("admin", false, "Grant admin rights")
	flag.Parse()

	if *email == "" {
		return fmt.Errorf("--email is required")
	}
	if *password == "" {
		return fmt.Errorf("--password is required")
	}

	driver := config.EnvOrDefault("DOMAINALERT_DB_DRIVER", "sqlite")
	dsn := config.EnvOrDefault("DOMAINALERT_DB_DSN", "./domainalert.db")

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   driver,
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query logs in seed output
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	hashed, err := auth.HashPassword(*password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	userRepo := repositories.NewUserRepository(database)

	user := &db.User{
		Email:        *email,
		PasswordHash: hashed,
		IsAdmin:      *admin,
	}

	if err := userRepo.Create(context.Background(), user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return fmt.Errorf("a user with email %q already exists", *email)
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("✓ User created\n")
	fmt.Printf("  ID:    %s\n", user.ID)
	fmt.Printf("  Email: %s\n", user.Email)
	fmt.Printf("  Admin: %v\n", user.IsAdmin)

	return nil
}
