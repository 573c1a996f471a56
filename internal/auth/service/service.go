// Package service implements account registration, login and token
// verification.
package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/zimmerhq/zimmer/internal/auth/domain"
	"github.com/zimmerhq/zimmer/internal/auth/password"
	"github.com/zimmerhq/zimmer/internal/auth/token"
	"github.com/zimmerhq/zimmer/internal/clock"
	"github.com/zimmerhq/zimmer/internal/observability/logger"
	"github.com/zimmerhq/zimmer/pkg/db"
	"github.com/zimmerhq/zimmer/pkg/repository"
)

type service struct {
	users  repository.Repository[domain.User]
	node   *snowflake.Node
	signer *token.Signer
	clock  clock.Clock
}

// New constructs the auth service.
func New(
	users repository.Repository[domain.User],
	node *snowflake.Node,
	signer *token.Signer,
	clk clock.Clock,
) domain.Service {
	return &service{users: users, node: node, signer: signer, clock: clk}
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	hash, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:           s.node.Generate(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Role:         domain.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrUserExists
		}
		return nil, err
	}

	logger.FromContext(ctx).Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.users.FindOne(ctx, &domain.User{Email: email})
	if err != nil {
		return nil, err
	}
	if user == nil || !password.Verify(req.Password, user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, domain.ErrUserInactive
	}

	signed, expiresIn, err := s.signer.Mint(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &domain.LoginResult{Token: signed, ExpiresIn: expiresIn, User: user}, nil
}

func (s *service) GetUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	user, err := s.users.FindOne(ctx, &domain.User{ID: id})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *service) VerifyToken(ctx context.Context, raw string) (*domain.User, error) {
	id, _, err := s.signer.Verify(raw)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	if !user.IsActive {
		return nil, domain.ErrUserInactive
	}
	return user, nil
}
