package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
	"paivamoda/backend/internal/xid"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	minUsernameLen = 3
	minPasswordLen = 6
)

// Authenticate checks a login. Accounts still holding a plaintext password
// from an old import are upgraded to bcrypt on their first successful login.
func (s *Service) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if !verifyPassword(user.Password, password) {
		return domain.User{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.User{}, fmt.Errorf("%w: account is inactive", domain.ErrForbidden)
	}

	if !isPasswordHash(user.Password) {
		if hash, err := hashPassword(password); err == nil {
			if err := s.repo.UpdateUserPassword(ctx, user.Username, hash); err != nil {
				s.logger.Warn("password hash upgrade failed", zap.String("username", user.Username), zap.Error(err))
			}
		}
	}
	user.Password = ""
	return *user, nil
}

// ConfirmPassword re-checks the acting user's password before a destructive
// action.
func (s *Service) ConfirmPassword(ctx context.Context, password string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password confirmation required", domain.ErrForbidden)
	}
	if _, err := s.Authenticate(ctx, actor.Username, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return fmt.Errorf("%w: password confirmation failed", domain.ErrForbidden)
		}
		return err
	}
	return nil
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.UserView{}, err
	}
	if !actor.CanManageUsers() {
		return domain.UserView{}, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}

	username := store.NormalizeUsername(req.Username)
	if len(username) < minUsernameLen {
		return domain.UserView{}, domain.Invalid("username", fmt.Sprintf("must be at least %d characters", minUsernameLen))
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserView{}, domain.Invalid("username", "must not contain spaces")
	}
	if err := checkPassword(req.Password); err != nil {
		return domain.UserView{}, err
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleEmployee
	}
	if role != domain.RoleAdmin && role != domain.RoleEmployee {
		return domain.UserView{}, domain.Invalid("role", fmt.Sprintf("unknown role %q", req.Role))
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = username
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:        xid.UUID(),
		Username:  username,
		Name:      name,
		Password:  hash,
		Role:      role,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return domain.UserView{}, err
	}
	s.audit(ctx, "user.created", zap.String("username", username), zap.String("new_role", role))
	return user.View(), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageUsers() {
		return nil, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]domain.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, u.View())
	}
	return views, nil
}

func (s *Service) DeleteUser(ctx context.Context, username string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if !actor.CanManageUsers() {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	username = store.NormalizeUsername(username)
	if username == store.NormalizeUsername(actor.Username) {
		return fmt.Errorf("%w: cannot delete the signed-in account", domain.ErrInvalidTransaction)
	}
	if err := s.repo.DeleteUser(ctx, username); err != nil {
		return err
	}
	s.audit(ctx, "user.deleted", zap.String("username", username))
	return nil
}

func (s *Service) ResetUserPassword(ctx context.Context, username string, newPassword string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if !actor.CanManageUsers() {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	if err := s.setPassword(ctx, username, newPassword); err != nil {
		return err
	}
	s.audit(ctx, "user.password_reset", zap.String("username", store.NormalizeUsername(username)))
	return nil
}

func (s *Service) ChangeOwnPassword(ctx context.Context, req domain.PasswordChangeRequest) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if _, err := s.Authenticate(ctx, actor.Username, req.CurrentPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return domain.Invalid("current_password", "does not match")
		}
		return err
	}
	if err := s.setPassword(ctx, actor.Username, req.NewPassword); err != nil {
		return err
	}
	s.audit(ctx, "user.password_changed")
	return nil
}

// RecoverPassword resets a password with the shared recovery passphrase. It is
// a plain equality check and only as strong as the passphrase itself.
func (s *Service) RecoverPassword(ctx context.Context, req domain.RecoveryRequest) error {
	if s.recoveryPassphrase == "" {
		return fmt.Errorf("%w: password recovery is disabled", domain.ErrForbidden)
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(req.Passphrase)), []byte(s.recoveryPassphrase)) != 1 {
		s.logger.Warn("password recovery rejected", zap.String("username", store.NormalizeUsername(req.Username)))
		return fmt.Errorf("%w: recovery passphrase does not match", domain.ErrForbidden)
	}
	if err := s.setPassword(ctx, req.Username, req.NewPassword); err != nil {
		return err
	}
	s.logger.Info("user.password_recovered", zap.String("username", store.NormalizeUsername(req.Username)))
	return nil
}

// EnsureAdmin creates the first administrator when the store has no users.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, password string) (bool, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	if len(users) > 0 {
		return false, nil
	}
	if err := checkPassword(password); err != nil {
		return false, err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	admin := domain.User{
		ID:        xid.UUID(),
		Username:  "admin",
		Name:      "Administrador",
		Password:  hash,
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, admin); err != nil {
		return false, err
	}
	s.logger.Info("user.bootstrapped", zap.String("username", admin.Username))
	return true, nil
}

func (s *Service) setPassword(ctx context.Context, username string, password string) error {
	if err := checkPassword(password); err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.UpdateUserPassword(ctx, username, hash)
}

func checkPassword(password string) error {
	if len(strings.TrimSpace(password)) < minPasswordLen {
		return domain.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	return nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || input == "" {
		return false
	}
	if isPasswordHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(input)) == 1
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
