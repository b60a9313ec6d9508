package user

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
)

// UserRepository defines the storage operations the SSO flow needs. The
// schema, migrations and any further user administration belong to the
// owning collaborator.
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByEntraID(ctx context.Context, entraID string) (User, error)
	Create(ctx context.Context, u User) (User, error)
	Update(ctx context.Context, u User) (User, error)
}

// InMemUserRepository implements UserRepository with in-memory storage
type InMemUserRepository struct {
	users map[uuid.UUID]*User
	mutex sync.RWMutex
}

// NewInMemUserRepository creates an empty in-memory user repository
func NewInMemUserRepository() *InMemUserRepository {
	return &InMemUserRepository{
		users: make(map[uuid.UUID]*User),
	}
}

// FindByID retrieves a user by ID
func (r *InMemUserRepository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return User{}, ssoerr.NotFound("user", id.String())
	}
	return copyUser(u), nil
}

// FindByEmail retrieves a user by email, case-insensitive
func (r *InMemUserRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return User{}, ssoerr.NotFound("user", email)
}

// FindByEntraID retrieves a user by the unique Entra object ID
func (r *InMemUserRepository) FindByEntraID(ctx context.Context, entraID string) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, u := range r.users {
		if u.EntraID == entraID {
			return copyUser(u), nil
		}
	}
	return User{}, ssoerr.NotFound("user", entraID)
}

// Create stores a new user, assigning an ID if absent
func (r *InMemUserRepository) Create(ctx context.Context, u User) (User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	stored := copyUser(&u)
	r.users[u.ID] = &stored
	return copyUser(&stored), nil
}

// Update overwrites an existing user
func (r *InMemUserRepository) Update(ctx context.Context, u User) (User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	existing, ok := r.users[u.ID]
	if !ok {
		return User{}, ssoerr.NotFound("user", u.ID.String())
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	stored := copyUser(&u)
	r.users[u.ID] = &stored
	return copyUser(&stored), nil
}

// copyUser returns a deep copy so callers never share slices or maps with
// the stored record
func copyUser(u *User) User {
	cp := *u
	if u.Roles != nil {
		cp.Roles = append([]string(nil), u.Roles...)
	}
	if u.EntraGroups != nil {
		cp.EntraGroups = append([]string(nil), u.EntraGroups...)
	}
	if u.Attributes != nil {
		cp.Attributes = make(map[string]interface{}, len(u.Attributes))
		for k, v := range u.Attributes {
			cp.Attributes[k] = v
		}
	}
	if u.CustomClaims != nil {
		cp.CustomClaims = make(map[string]interface{}, len(u.CustomClaims))
		for k, v := range u.CustomClaims {
			cp.CustomClaims[k] = v
		}
	}
	return cp
}
