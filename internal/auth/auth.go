// Package auth is the boundary to the external credential service. The
// core only needs a bearer token resolved to a user id, and optionally the
// user's stored profile for prompt rendering.
package auth

import (
	"context"
	"errors"

	"github.com/eagleisbatman/farmerchat-server/internal/models"
)

var ErrInvalidToken = errors.New("invalid or missing token")

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// StaticTokens verifies against a fixed token->user map supplied at
// process start. It stands in for the real credential service.
type StaticTokens map[string]string

func (t StaticTokens) Verify(_ context.Context, token string) (string, error) {
	userID, ok := t[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// ProfileLoader resolves the user profile injected into prompts. It may
// return nil when the user has no stored profile.
type ProfileLoader interface {
	Profile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// StaticProfiles serves profiles from a fixed map, standing in for the
// external user service.
type StaticProfiles map[string]*models.UserProfile

func (p StaticProfiles) Profile(_ context.Context, userID string) (*models.UserProfile, error) {
	return p[userID], nil
}
