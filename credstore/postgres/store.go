// Package postgres implements credstore.Store on PostgreSQL through a pgx/v5 pool.
//
// Each Update runs in one transaction that locks the identity row with
// SELECT ... FOR UPDATE, applies the mutation, rewrites the row and
// reconciles oauth_links. Uniqueness of (provider, provider_user_id) is
// enforced by the oauth_links_provider_user_key constraint.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/gameauth/credstore"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	uniqueViolation       = "23505"
	providerUserKey       = "oauth_links_provider_user_key"
	identityColumns       = `id, username, email, password_hash, email_verified, two_factor_enabled, two_factor_secret, backup_codes, two_factor_secret_tmp, backup_codes_tmp, is_active, created_at, updated_at, two_factor_last_counter`
	selectIdentitiesQuery = `SELECT ` + identityColumns + ` FROM identities `
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL credential store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Open connects, pings and applies embedded migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	const op = "postgres.Open"

	if err := Migrate(dsn); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}
	return New(pool), nil
}

// Migrate applies the embedded schema migrations to dsn.
func Migrate(dsn string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) GetByID(ctx context.Context, id string) (*credstore.Identity, error) {
	return s.getOne(ctx, s.pool, `WHERE id = $1`, id)
}

func (s *Store) GetByLogin(ctx context.Context, usernameOrEmail string) (*credstore.Identity, error) {
	key := strings.TrimSpace(usernameOrEmail)
	rec, err := s.getOne(ctx, s.pool, `WHERE LOWER(username) = LOWER($1)`, key)
	if errors.Is(err, credstore.ErrNotFound) {
		return s.getOne(ctx, s.pool, `WHERE LOWER(email) = LOWER($1)`, key)
	}
	return rec, err
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*credstore.Identity, error) {
	return s.getOne(ctx, s.pool, `WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
}

func (s *Store) GetByProvider(ctx context.Context, provider, providerUserID string) (*credstore.Identity, error) {
	return s.getOne(ctx, s.pool,
		`WHERE id = (SELECT identity_id FROM oauth_links WHERE provider = $1 AND provider_user_id = $2)`,
		provider, providerUserID)
}

func (s *Store) Create(ctx context.Context, identity *credstore.Identity) error {
	const op = "postgres.Create"

	if identity == nil {
		return credstore.ErrInvalidRecord
	}
	rec := identity.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if err := rec.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cols := rec.TwoFactor.Columns()
	_, err = tx.Exec(ctx, `INSERT INTO identities (`+identityColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, nullable(rec.Username), nullable(rec.Email), nullable(rec.PasswordHash), rec.EmailVerified,
		cols.Enabled, cols.Secret, cols.BackupCodes, cols.SecretTmp, cols.BackupCodesTmp,
		rec.IsActive, rec.CreatedAt, rec.UpdatedAt, cols.LastCounter,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapConstraint(err))
	}
	if err := insertLinks(ctx, tx, rec.ID, rec.OAuthProviders); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	identity.ID = rec.ID
	identity.CreatedAt = rec.CreatedAt
	identity.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *Store) Update(ctx context.Context, id string, mutate credstore.Mutation) (*credstore.Identity, error) {
	const op = "postgres.Update"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.getOne(ctx, tx, `WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now().UTC()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	cols := next.TwoFactor.Columns()
	_, err = tx.Exec(ctx, `UPDATE identities SET
		username = $2, email = $3, password_hash = $4, email_verified = $5,
		two_factor_enabled = $6, two_factor_secret = $7, backup_codes = $8,
		two_factor_secret_tmp = $9, backup_codes_tmp = $10, is_active = $11, updated_at = $12,
		two_factor_last_counter = $13
		WHERE id = $1`,
		next.ID, nullable(next.Username), nullable(next.Email), nullable(next.PasswordHash), next.EmailVerified,
		cols.Enabled, cols.Secret, cols.BackupCodes, cols.SecretTmp, cols.BackupCodesTmp,
		next.IsActive, next.UpdatedAt, cols.LastCounter,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapConstraint(err))
	}

	removed, added := diffLinks(current.OAuthProviders, next.OAuthProviders)
	for _, provider := range removed {
		if _, err := tx.Exec(ctx, `DELETE FROM oauth_links WHERE identity_id = $1 AND provider = $2`, next.ID, provider); err != nil {
			return nil, fmt.Errorf("%s: unlink %s: %w", op, provider, err)
		}
	}
	if err := insertLinks(ctx, tx, next.ID, added); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return next, nil
}

func (s *Store) getOne(ctx context.Context, q querier, where string, args ...any) (*credstore.Identity, error) {
	rec, err := scanIdentity(q.QueryRow(ctx, selectIdentitiesQuery+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, credstore.ErrNotFound
		}
		if errors.Is(err, credstore.ErrInvalidRecord) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres.get: %w", err)
	}

	links, err := loadLinks(ctx, q, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.OAuthProviders = links
	return rec, nil
}

func scanIdentity(row pgx.Row) (*credstore.Identity, error) {
	var (
		rec                       credstore.Identity
		username, email, password *string
		cols                      credstore.TwoFactorColumns
	)
	err := row.Scan(
		&rec.ID, &username, &email, &password, &rec.EmailVerified,
		&cols.Enabled, &cols.Secret, &cols.BackupCodes, &cols.SecretTmp, &cols.BackupCodesTmp,
		&rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt, &cols.LastCounter,
	)
	if err != nil {
		return nil, err
	}

	tf, err := credstore.TwoFactorFromColumns(cols)
	if err != nil {
		return nil, err
	}
	rec.Username = deref(username)
	rec.Email = deref(email)
	rec.PasswordHash = deref(password)
	rec.TwoFactor = tf
	return &rec, nil
}

func loadLinks(ctx context.Context, q querier, identityID string) (map[string]credstore.OAuthLink, error) {
	rows, err := q.Query(ctx, `SELECT provider, provider_user_id, linked_at FROM oauth_links WHERE identity_id = $1`, identityID)
	if err != nil {
		return nil, fmt.Errorf("postgres.loadLinks: %w", err)
	}
	defer rows.Close()

	links := map[string]credstore.OAuthLink{}
	for rows.Next() {
		var provider string
		var link credstore.OAuthLink
		if err := rows.Scan(&provider, &link.ProviderUserID, &link.LinkedAt); err != nil {
			return nil, fmt.Errorf("postgres.loadLinks: %w", err)
		}
		links[provider] = link
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres.loadLinks: %w", err)
	}
	return links, nil
}

func insertLinks(ctx context.Context, q querier, identityID string, links map[string]credstore.OAuthLink) error {
	for provider, link := range links {
		linkedAt := link.LinkedAt
		if linkedAt.IsZero() {
			linkedAt = time.Now().UTC()
		}
		_, err := q.Exec(ctx,
			`INSERT INTO oauth_links (identity_id, provider, provider_user_id, linked_at) VALUES ($1, $2, $3, $4)`,
			identityID, provider, link.ProviderUserID, linkedAt)
		if err != nil {
			return mapConstraint(err)
		}
	}
	return nil
}

// diffLinks returns providers to delete and links to insert. A provider whose
// user id changed appears in both.
func diffLinks(before, after map[string]credstore.OAuthLink) ([]string, map[string]credstore.OAuthLink) {
	var removed []string
	added := map[string]credstore.OAuthLink{}
	for provider, old := range before {
		cur, ok := after[provider]
		if !ok || cur.ProviderUserID != old.ProviderUserID {
			removed = append(removed, provider)
		}
	}
	for provider, cur := range after {
		old, ok := before[provider]
		if !ok || cur.ProviderUserID != old.ProviderUserID {
			added[provider] = cur
		}
	}
	return removed, added
}

func mapConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == providerUserKey {
			return credstore.ErrProviderConflict
		}
		return credstore.ErrConflict
	}
	return err
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

var (
	_ credstore.Store  = (*Store)(nil)
	_ credstore.Pinger = (*Store)(nil)
)
