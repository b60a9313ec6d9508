package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dcplibrary/entra-sso/pkg/entra"
	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
)

// UserService resolves and provisions local users for SSO logins
type UserService struct {
	repository   UserRepository
	roleProvider RoleProvider
}

// NewUserService creates a user service backed by the given repository
func NewUserService(repository UserRepository) *UserService {
	return &UserService{
		repository:   repository,
		roleProvider: DefaultRoleProvider{},
	}
}

// WithRoleProvider overrides the role resolution strategy
func (s *UserService) WithRoleProvider(p RoleProvider) *UserService {
	s.roleProvider = p
	return s
}

// CurrentRole resolves the user's role via the configured RoleProvider
func (s *UserService) CurrentRole(u User) string {
	return s.roleProvider.CurrentRole(u)
}

// FindByID retrieves a user by ID
func (s *UserService) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	return s.repository.FindByID(ctx, id)
}

// ResolveForLogin resolves the local user for an authenticated Entra
// profile. The user is looked up by email/UPN; profile fields and mapped
// claim attributes are applied. With autoCreate enabled a missing user is
// provisioned with a random unusable placeholder credential; otherwise a
// missing user is a USER_NOT_PROVISIONED failure.
//
// Returns the resolved user and whether it was just created.
func (s *UserService) ResolveForLogin(ctx context.Context, profile entra.Profile, attrs map[string]interface{}, storedClaims map[string]interface{}, autoCreate bool) (User, bool, error) {
	email := profile.Email()
	if email == "" {
		return User{}, false, ssoerr.New(ssoerr.ErrCodeInvalidInput, "no email found in user profile")
	}

	existing, err := s.repository.FindByEmail(ctx, email)
	if err == nil {
		existing.Name = profile.DisplayName
		existing.Email = email
		existing.EntraID = profile.ID
		applyClaimData(&existing, attrs, storedClaims)

		updated, err := s.repository.Update(ctx, existing)
		if err != nil {
			return User{}, false, fmt.Errorf("failed to update user: %w", err)
		}
		return updated, false, nil
	}

	if !ssoerr.IsCode(err, ssoerr.ErrCodeNotFound) {
		return User{}, false, fmt.Errorf("failed to look up user: %w", err)
	}

	if !autoCreate {
		return User{}, false, ssoerr.Newf(ssoerr.ErrCodeUserNotProvisioned, "no local account for %s and automatic user creation is disabled", email)
	}

	placeholder, err := placeholderPasswordHash()
	if err != nil {
		return User{}, false, fmt.Errorf("failed to generate placeholder credential: %w", err)
	}

	newUser := User{
		Name:         profile.DisplayName,
		Email:        email,
		EntraID:      profile.ID,
		PasswordHash: placeholder,
	}
	applyClaimData(&newUser, attrs, storedClaims)

	created, err := s.repository.Create(ctx, newUser)
	if err != nil {
		return User{}, false, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("Provisioned new user from SSO login", "email", email, "entra_id", profile.ID, "user_id", created.ID)
	return created, true, nil
}

// SyncGroupsAndRole persists the resolved group projection and role onto
// the user record
func (s *UserService) SyncGroupsAndRole(ctx context.Context, u User, groupNames []string, role string) (User, error) {
	u.EntraGroups = groupNames
	u.Role = role

	updated, err := s.repository.Update(ctx, u)
	if err != nil {
		return User{}, fmt.Errorf("failed to persist groups and role: %w", err)
	}
	return updated, nil
}

// applyClaimData merges mapped claim attributes and, when store-all is
// enabled, the verbatim custom-claim set onto the user record
func applyClaimData(u *User, attrs map[string]interface{}, storedClaims map[string]interface{}) {
	if len(attrs) > 0 {
		if u.Attributes == nil {
			u.Attributes = make(map[string]interface{}, len(attrs))
		}
		for k, v := range attrs {
			u.Attributes[k] = v
		}
	}
	if storedClaims != nil {
		u.CustomClaims = storedClaims
	}
}

// placeholderPasswordHash produces a bcrypt hash of 32 random bytes so an
// SSO-provisioned account can never be used for local password login
func placeholderPasswordHash() (string, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}
	// bcrypt only considers the first 72 bytes; the hex form is 64
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(random)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
