package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
)

// DBTX is an interface that allows us to use either a database connection
// or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresUserRepository implements UserRepository using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE users (
//	    id            UUID PRIMARY KEY,
//	    name          TEXT NOT NULL,
//	    email         TEXT NOT NULL UNIQUE,
//	    entra_id      TEXT UNIQUE,
//	    role          TEXT NOT NULL DEFAULT '',
//	    entra_groups  JSONB NOT NULL DEFAULT '[]',
//	    attributes    JSONB NOT NULL DEFAULT '{}',
//	    entra_custom_claims JSONB NOT NULL DEFAULT '{}',
//	    password_hash TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL
//	);
type PostgresUserRepository struct {
	db DBTX
}

// NewPostgresUserRepository creates a new PostgreSQL user repository
func NewPostgresUserRepository(db DBTX) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

const userColumns = `id, name, email, COALESCE(entra_id, ''), role, entra_groups, attributes, entra_custom_claims, password_hash, created_at, updated_at`

// FindByID retrieves a user by ID
func (r *PostgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns), id)
	return r.scanUser(row, id.String())
}

// FindByEmail retrieves a user by email, case-insensitive
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE LOWER(email) = LOWER($1)`, userColumns), email)
	return r.scanUser(row, email)
}

// FindByEntraID retrieves a user by the unique Entra object ID
func (r *PostgresUserRepository) FindByEntraID(ctx context.Context, entraID string) (User, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE entra_id = $1`, userColumns), entraID)
	return r.scanUser(row, entraID)
}

// Create stores a new user, assigning an ID if absent
func (r *PostgresUserRepository) Create(ctx context.Context, u User) (User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	groups, attrs, claims, err := marshalUserJSON(u)
	if err != nil {
		return User{}, err
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO users (id, name, email, entra_id, role, entra_groups, attributes, entra_custom_claims, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Name, u.Email, u.EntraID, u.Role, groups, attrs, claims, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}

	return u, nil
}

// Update overwrites an existing user
func (r *PostgresUserRepository) Update(ctx context.Context, u User) (User, error) {
	u.UpdatedAt = time.Now().UTC()

	groups, attrs, claims, err := marshalUserJSON(u)
	if err != nil {
		return User{}, err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE users
		 SET name = $2, email = $3, entra_id = NULLIF($4, ''), role = $5,
		     entra_groups = $6, attributes = $7, entra_custom_claims = $8,
		     password_hash = $9, updated_at = $10
		 WHERE id = $1`,
		u.ID, u.Name, u.Email, u.EntraID, u.Role, groups, attrs, claims, u.PasswordHash, u.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return User{}, ssoerr.NotFound("user", u.ID.String())
	}

	return u, nil
}

// scanUser scans a single user row, translating pgx.ErrNoRows into the
// repository's not-found error
func (r *PostgresUserRepository) scanUser(row pgx.Row, identifier string) (User, error) {
	var u User
	var groups, attrs, claims []byte

	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.EntraID, &u.Role,
		&groups, &attrs, &claims, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ssoerr.NotFound("user", identifier)
		}
		return User{}, fmt.Errorf("failed to scan user: %w", err)
	}

	if len(groups) > 0 {
		if err := json.Unmarshal(groups, &u.EntraGroups); err != nil {
			return User{}, fmt.Errorf("failed to decode entra_groups: %w", err)
		}
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &u.Attributes); err != nil {
			return User{}, fmt.Errorf("failed to decode attributes: %w", err)
		}
	}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &u.CustomClaims); err != nil {
			return User{}, fmt.Errorf("failed to decode entra_custom_claims: %w", err)
		}
	}

	return u, nil
}

func marshalUserJSON(u User) (groups, attrs, claims []byte, err error) {
	if u.EntraGroups == nil {
		u.EntraGroups = []string{}
	}
	if u.Attributes == nil {
		u.Attributes = map[string]interface{}{}
	}
	if u.CustomClaims == nil {
		u.CustomClaims = map[string]interface{}{}
	}

	if groups, err = json.Marshal(u.EntraGroups); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode entra_groups: %w", err)
	}
	if attrs, err = json.Marshal(u.Attributes); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode attributes: %w", err)
	}
	if claims, err = json.Marshal(u.CustomClaims); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode entra_custom_claims: %w", err)
	}
	return groups, attrs, claims, nil
}
