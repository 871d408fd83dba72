package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/Ourajeenn/MoonOps-V2/internal/domain"
	"github.com/Ourajeenn/MoonOps-V2/internal/repository"
	"github.com/Ourajeenn/MoonOps-V2/pkg/config"
	"github.com/Ourajeenn/MoonOps-V2/pkg/crypto"
	jwtpkg "github.com/Ourajeenn/MoonOps-V2/pkg/jwt"
)

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// Session is an issued access token with its lifetime.
type Session struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// ErrInvalidCredentials is returned for unknown emails, wrong passwords and
// disabled accounts alike so login responses never reveal which one failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

var errTokenRequired = errors.New("token required")

// Login authenticates a user by email and password and issues a tenant
// scoped session token.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, Session, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Session{}, ErrInvalidCredentials
		}
		return nil, Session{}, err
	}
	if !user.IsActive {
		return nil, Session{}, ErrInvalidCredentials
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, Session{}, ErrInvalidCredentials
	}

	token, err := jwtpkg.GenerateToken(user.ID, user.TenantID, user.Role, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, Session{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID, "tenant_id", user.TenantID)
	return user, Session{AccessToken: token, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}

// Authorize validates a bearer token and returns the user with its claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, errTokenRequired
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, ErrInvalidCredentials
	}
	return user, claims, nil
}
