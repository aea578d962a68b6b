// Package auth guards the admin panel behind a shared password. A
// successful login issues an opaque bearer token with a fixed lifetime.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coachingcentre/notes-store/random"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrUnauthorized    = errors.New("unauthorized")
)

const tokenLength = 32

type Admin struct {
	hash     []byte
	sessions SessionStore
	ttl      time.Duration
}

// NewAdmin hashes password once so that logins never compare plaintext.
func NewAdmin(password string, sessions SessionStore, ttl time.Duration) (*Admin, error) {
	if password == "" {
		return nil, errors.New("admin password is empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing admin password: %w", err)
	}

	return &Admin{hash: hash, sessions: sessions, ttl: ttl}, nil
}

// Login checks password and issues a fresh session token.
func (a *Admin) Login(ctx context.Context, password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return "", ErrInvalidPassword
	}

	token, err := random.StringSecure(tokenLength)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}

	if err := a.sessions.Issue(ctx, token, a.ttl); err != nil {
		return "", fmt.Errorf("issuing session: %w", err)
	}
	return token, nil
}

// Authorize reports ErrUnauthorized unless token is a live session.
func (a *Admin) Authorize(ctx context.Context, token string) error {
	if token == "" {
		return ErrUnauthorized
	}

	ok, err := a.sessions.Valid(ctx, token)
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (a *Admin) Logout(ctx context.Context, token string) error {
	return a.sessions.Revoke(ctx, token)
}
