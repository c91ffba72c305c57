package users

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/store"
	"github.com/wahub/wahub/internal/util"
)

// Service owns user accounts and their API keys. Keys are generated here,
// returned once on creation or rotation, and verified on every request by
// the auth middleware.
type Service struct {
	global *store.Store
}

func NewService(global *store.Store) *Service {
	return &Service{global: global}
}

// Create registers an account and mints its API key. The plaintext key is
// only available in the returned user.
func (s *Service) Create(ctx context.Context, p model.CreateUserParams) (*model.User, error) {
	username := strings.TrimSpace(strings.ToLower(p.Username))
	if username == "" {
		return nil, apperrors.MissingRequired("username")
	}
	if len(p.Password) < 8 {
		return nil, apperrors.ValidationError("password must be at least 8 characters")
	}
	role := p.Role
	if role == "" {
		role = model.UserRoleUser
	}

	hash, err := util.HashPassword(p.Password)
	if err != nil {
		return nil, apperrors.Internal("password hashing failed")
	}
	apiKey, err := util.GenerateAPIKey()
	if err != nil {
		return nil, apperrors.Internal("api key generation failed")
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		APIKey:       util.HashToken(apiKey),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.global.InsertUser(ctx, user); err != nil {
		return nil, err
	}

	log.Info().Str("userId", user.ID).Str("username", username).Msg("user created")

	// Hand the plaintext key back exactly once.
	out := *user
	out.APIKey = apiKey
	return &out, nil
}

// Authenticate checks username/password and returns the account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.global.GetUserByUsername(ctx, strings.TrimSpace(strings.ToLower(username)))
	if err != nil {
		return nil, err
	}
	if user == nil || !util.CheckPasswordHash(password, user.PasswordHash) {
		return nil, apperrors.Unauthorized("invalid credentials")
	}
	return user, nil
}

// VerifyAPIKey resolves the account owning the key, or an unauthorized
// error. Keys are stored hashed; lookup goes through the hash.
func (s *Service) VerifyAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	if apiKey == "" {
		return nil, apperrors.Unauthorized("missing api key")
	}
	user, err := s.global.GetUserByAPIKey(ctx, util.HashToken(apiKey))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.Unauthorized("invalid api key")
	}
	return user, nil
}

// RotateAPIKey replaces the account's key and returns the new plaintext.
func (s *Service) RotateAPIKey(ctx context.Context, userID string) (string, error) {
	user, err := s.global.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", apperrors.NotFound("user")
	}

	apiKey, err := util.GenerateAPIKey()
	if err != nil {
		return "", apperrors.Internal("api key generation failed")
	}
	if err := s.global.RotateAPIKey(ctx, userID, util.HashToken(apiKey)); err != nil {
		return "", err
	}
	log.Info().Str("userId", userID).Msg("api key rotated")
	return apiKey, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.global.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("user")
	}
	return user, nil
}

func (s *Service) List(ctx context.Context) ([]model.User, error) {
	return s.global.ListUsers(ctx)
}

// Delete removes the account. Its sessions' assignment rows cascade away;
// the session rows themselves survive until removed through the manager.
func (s *Service) Delete(ctx context.Context, userID string) error {
	user, err := s.global.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.NotFound("user")
	}
	if err := s.global.DeleteUser(ctx, userID); err != nil {
		return err
	}
	log.Info().Str("userId", userID).Msg("user deleted")
	return nil
}
