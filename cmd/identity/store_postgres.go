package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "care").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "care",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const identityColumns = `id, role, email, email_norm, display_name, active, password_hash, created_at, updated_at`

// Create registers a new identity.
func (s *PostgresStore) Create(ctx context.Context, in CreateIdentityInput) (Identity, error) {
	const op = "identity.Create"

	if s == nil || s.pool == nil {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	if !in.Role.Valid() {
		return Identity{}, pgInvalid(op, "invalid role")
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return Identity{}, pgInvalid(op, "email is required")
	}
	if strings.TrimSpace(in.Password) == "" {
		return Identity{}, pgInvalid(op, "password is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pwHash, err := HashPassword(in.Password, DefaultArgon2idParams())
	if err != nil {
		return Identity{}, pgInvalid(op, err.Error())
	}

	id, err := NewULID(now)
	if err != nil {
		return Identity{}, err
	}

	out := Identity{
		ID:           id,
		Role:         in.Role,
		Email:        email,
		EmailNorm:    NormalizeEmail(email),
		DisplayName:  NormalizeDisplayName(in.DisplayName),
		Active:       in.Active,
		PasswordHash: pwHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	identities := pgIdent(s.schema, "identities")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+identities+` (`+identityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		out.ID, string(out.Role), out.Email, out.EmailNorm, out.DisplayName,
		out.Active, out.PasswordHash, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Identity{}, ConflictError{Op: op, Field: field}
		}
		return Identity{}, err
	}

	return out, nil
}

// GetByID loads an identity by its ULID.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Identity, error) {
	const op = "identity.GetByID"

	if strings.TrimSpace(id) == "" {
		return Identity{}, pgInvalid(op, "id is required")
	}

	identities := pgIdent(s.schema, "identities")
	row := s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM `+identities+` WHERE id = $1`, id)

	return scanIdentity(op, row)
}

// GetByEmail loads an identity by normalized email.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (Identity, error) {
	const op = "identity.GetByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return Identity{}, pgInvalid(op, "email is required")
	}

	identities := pgIdent(s.schema, "identities")
	row := s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM `+identities+` WHERE email_norm = $1`, norm)

	return scanIdentity(op, row)
}

// SetActive flips the active flag.
func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	const op = "identity.SetActive"

	if strings.TrimSpace(id) == "" {
		return pgInvalid(op, "id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	identities := pgIdent(s.schema, "identities")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+identities+` SET active = $2, updated_at = $3 WHERE id = $1`,
		id, active, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "identity"}
	}
	return nil
}

// UpdatePasswordHash replaces the stored hash.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id string, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if strings.TrimSpace(id) == "" {
		return pgInvalid(op, "id is required")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return pgInvalid(op, "password hash is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	identities := pgIdent(s.schema, "identities")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+identities+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "identity"}
	}
	return nil
}

// Delete removes a non-admin identity. Admin identities are refused; they are
// deactivated, never deleted.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const op = "identity.Delete"

	if strings.TrimSpace(id) == "" {
		return pgInvalid(op, "id is required")
	}

	identities := pgIdent(s.schema, "identities")
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+identities+` WHERE id = $1 AND role <> $2`,
		id, string(RoleAdmin),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either missing or admin; tell the two apart for the caller.
		var role string
		err := s.pool.QueryRow(ctx,
			`SELECT role FROM `+identities+` WHERE id = $1`, id).Scan(&role)
		if errors.Is(err, pgx.ErrNoRows) {
			return NotFoundError{Op: op, Resource: "identity"}
		}
		if err != nil {
			return err
		}
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "admin identities are deactivated, never deleted"}
	}
	return nil
}

// ---- helpers ----

func scanIdentity(op string, row pgx.Row) (Identity, error) {
	var (
		out  Identity
		role string
	)
	err := row.Scan(
		&out.ID,
		&role,
		&out.Email,
		&out.EmailNorm,
		&out.DisplayName,
		&out.Active,
		&out.PasswordHash,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, NotFoundError{Op: op, Resource: "identity"}
		}
		return Identity{}, err
	}
	out.Role = Role(role)
	return out, nil
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to heuristic substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_identities_email_norm":
		return "email", true
	default:
		if strings.Contains(c, "email") {
			return "email", true
		}
		return "unique", true
	}
}
