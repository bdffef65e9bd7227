package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// GrantSource resolves a subject's roles and permission grants. The policy
// store satisfies this.
type GrantSource interface {
	UserRoles(ctx context.Context, userID int64) ([]int64, error)
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
}

// TokenPair is the issued credential returned to the client.
type TokenPair struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	grants GrantSource
	tokens *TokenIssuer
}

// NewService constructs a Service.
func NewService(repo Repository, grants GrantSource, tokens *TokenIssuer) *Service {
	return &Service{repo: repo, grants: grants, tokens: tokens}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login verifies credentials and issues a token embedding the subject's
// current roles and permission grants.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return TokenPair{}, err
	}
	return s.issueFor(ctx, user.ID)
}

// Refresh re-issues a token from a still-valid one. Roles and grants are
// re-read so revocations since the original login take effect.
func (s *Service) Refresh(ctx context.Context, token string) (TokenPair, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return TokenPair{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil || !user.IsActive {
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issueFor(ctx, userID)
}

func (s *Service) issueFor(ctx context.Context, userID int64) (TokenPair, error) {
	roles, err := s.grants.UserRoles(ctx, userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("load roles: %w", err)
	}
	perms, err := s.grants.UserPermissions(ctx, userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("load permissions: %w", err)
	}
	signed, expiresAt, err := s.tokens.Issue(userID, roles, perms)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}
