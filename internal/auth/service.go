// Package auth issues and verifies the credentials of admin accounts: bcrypt
// password hashes, short-lived access JWTs and longer-lived refresh JWTs signed
// with a separate secret.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"folhaponto/internal/core"
	"folhaponto/internal/log"
	"folhaponto/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func DefaultConfig() Config {
	return Config{AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour}
}

// User is the public view of an account.
type User struct {
	ID    string    `json:"id"`
	Name  string    `json:"nome"`
	Email string    `json:"email"`
	Role  core.Role `json:"role"`
}

// Session is the result of a successful register, login or refresh. The
// refresh token travels in a cookie, never in the JSON body.
type Session struct {
	AccessToken      string    `json:"accessToken"`
	User             User      `json:"user"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

type Service struct {
	accounts store.AccountStore
	cfg      Config
	now      func() time.Time
	cost     int
	logger   *log.Logger
}

type Option func(*Service)

// WithClock replaces time.Now for token timestamps and verification.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithHashCost overrides bcrypt.DefaultCost.
func WithHashCost(cost int) Option { return func(s *Service) { s.cost = cost } }

func NewService(accounts store.AccountStore, cfg Config, opts ...Option) (*Service, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	def := DefaultConfig()
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = def.AccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = def.RefreshTTL
	}
	s := &Service{
		accounts: accounts,
		cfg:      cfg,
		now:      time.Now,
		cost:     bcrypt.DefaultCost,
		logger:   log.FromContext(context.Background()).WithComponent(log.ComponentAuth),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RefreshTTL is the lifetime of the refresh cookie.
func (s *Service) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func userOf(a core.Account) User {
	return User{ID: a.ID, Name: a.Name, Email: a.Email, Role: a.Role}
}

func (s *Service) session(a core.Account) (Session, error) {
	access, _, err := s.sign(a, s.cfg.AccessSecret, s.cfg.AccessTTL, true)
	if err != nil {
		return Session{}, err
	}
	refresh, refreshExp, err := s.sign(a, s.cfg.RefreshSecret, s.cfg.RefreshTTL, false)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: access, User: userOf(a), RefreshToken: refresh, RefreshExpiresAt: refreshExp}, nil
}

// RegisterInput is the payload of an admin-created account.
type RegisterInput struct {
	Name     string    `json:"nome"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     core.Role `json:"role"`
}

// Register creates an account. The role defaults to user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Email = core.NormalizeEmail(in.Email)
	if in.Email == "" {
		return Session{}, &core.ValidationError{Field: "email", Msg: "email é obrigatório"}
	}
	if in.Password == "" {
		return Session{}, &core.ValidationError{Field: "password", Msg: "senha é obrigatória"}
	}
	if in.Role == "" {
		in.Role = core.RoleUser
	}
	if !in.Role.Valid() {
		return Session{}, &core.ValidationError{Field: "role", Msg: "perfil inválido"}
	}

	hash, err := s.HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	a, err := s.accounts.CreateAccount(ctx, core.Account{
		Name:         strings.TrimSpace(in.Name),
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("register: %w", err)
	}
	s.logger.InfoContext(ctx, "Account registered", log.FieldAccountID, a.ID, log.FieldRole, a.Role)
	return s.session(a)
}

// Login checks email and password. Unknown emails and wrong passwords both
// yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	a, err := s.accounts.GetAccountByEmail(ctx, core.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("login: %w", err)
	}
	if !checkPassword(a.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(a)
}

// Refresh verifies a refresh token, reloads its account and issues a new pair,
// so a role change is picked up on the next refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := s.parse(refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return Session{}, err
	}
	a, err := s.accounts.GetAccount(ctx, claims.AccountID())
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, fmt.Errorf("refresh: %w", err)
	}
	return s.session(a)
}

// Me returns the account behind an access token subject.
func (s *Service) Me(ctx context.Context, accountID string) (core.Account, error) {
	a, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return core.Account{}, fmt.Errorf("me: %w", err)
	}
	return a, nil
}

// EnsureAdmin promotes the account with email to admin, creating it with
// password when it does not exist. It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, name, password string) (bool, error) {
	email = core.NormalizeEmail(email)
	a, err := s.accounts.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		if a.Role == core.RoleAdmin {
			return false, nil
		}
		if err := s.accounts.UpdateAccountRole(ctx, a.ID, core.RoleAdmin); err != nil {
			return false, fmt.Errorf("promote account: %w", err)
		}
		s.logger.InfoContext(ctx, "Account promoted to admin", log.FieldAccountID, a.ID)
		return false, nil
	case !errors.Is(err, core.ErrNotFound):
		return false, fmt.Errorf("find account: %w", err)
	}

	if password == "" {
		return false, &core.ValidationError{Field: "password", Msg: "senha é obrigatória para criar a conta"}
	}
	if name == "" {
		name = "Administrador"
	}
	if _, err := s.Register(ctx, RegisterInput{Name: name, Email: email, Password: password, Role: core.RoleAdmin}); err != nil {
		return false, err
	}
	return true, nil
}
