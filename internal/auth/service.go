package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/repositories"
)

// Service authenticates users against the database and issues access tokens.
type Service struct {
	users   repositories.UserRepository
	manager *Manager
}

// NewService creates an auth Service.
func NewService(users repositories.UserRepository, manager *Manager) *Service {
	return &Service{users: users, manager: manager}
}

// Login validates email/password and returns a signed access token on success.
func (s *Service) Login(ctx context.Context, email, password string) (string, *db.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// Indistinguishable from a wrong password, so login attempts
			// cannot enumerate registered addresses.
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("auth: fetching user by email: %w", err)
	}

	if !VerifyPassword(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.manager.GenerateAccessToken(user.ID, user.Email, user.IsAdmin)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}
