package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/oksasatya/pix-license-api/config"
	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/internal/domain/repository"
	pginfra "github.com/oksasatya/pix-license-api/internal/infrastructure/postgres"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	pool, err := pginfra.NewPool(ctx, pginfra.PoolOptions{
		DSN:         cfg.PostgresDSN(),
		AppName:     cfg.AppName + "-seed",
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		MaxConnLife: cfg.DBMaxConnLife,
	})
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	users := pginfra.NewUserRepository(pool)

	hasher, err := helpers.NewPasswordHasher([]byte(cfg.PasswordSecret()))
	if err != nil {
		log.Fatalf("password hasher: %v", err)
	}

	email := "demo@pix-license.local"
	password := "password123"
	if u, err := users.GetByEmail(ctx, email); err == nil {
		fmt.Printf("user already seeded: id=%s email=%s state=%s\n", u.ID, u.Email, u.OnboardingState)
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Fatalf("lookup: %v", err)
	}

	hash, err := hasher.HashPassword(password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}
	u := &entity.User{
		Email:           email,
		Name:            "Demo User",
		TaxID:           "52998224725",
		Cellphone:       "+5511999999999",
		PasswordHash:    hash,
		OnboardingState: entity.OnboardingPendingCustomer,
	}
	if err := users.Create(ctx, u); err != nil {
		log.Fatalf("failed to seed user: %v", err)
	}
	fmt.Printf("seeded user: id=%s email=%s password=%s\n", u.ID, email, password)
}
