// Package authpw provides phone/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"brokerhub/api/internal/store"
)

// ErrInvalidCredentials is returned for any sign-in failure so callers
// cannot distinguish unknown phones from wrong passwords.
var ErrInvalidCredentials = errors.New("invalid phone or password")

// UserStore defines the storage interface for auth.
type UserStore interface {
	GetUserByPhone(ctx context.Context, phone string) (store.User, error)
}

// Service authenticates users against their stored bcrypt hash.
type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignIn authenticates a user by phone and password.
func (s *Service) SignIn(ctx context.Context, phone, password string) (store.User, error) {
	if phone == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	return user, nil
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	if len(password) < 6 {
		return "", errors.New("password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
