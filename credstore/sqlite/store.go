// Package sqlite implements credstore.Store on a single SQLite file using the
// pure-Go modernc driver. It targets single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrEthical07/gameauth/credstore"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	identityColumns       = `id, username, email, password_hash, email_verified, two_factor_enabled, two_factor_secret, backup_codes, two_factor_secret_tmp, backup_codes_tmp, is_active, created_at, updated_at, two_factor_last_counter`
	selectIdentitiesQuery = `SELECT ` + identityColumns + ` FROM identities `
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite credential store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) the database at path and applies migrations.
//
// The pool is limited to one connection: SQLite allows a single writer and
// funnelling every transaction through one connection keeps Update atomic
// without busy retries.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetByID(ctx context.Context, id string) (*credstore.Identity, error) {
	return s.getOne(ctx, s.db, `WHERE id = ?`, id)
}

func (s *Store) GetByLogin(ctx context.Context, usernameOrEmail string) (*credstore.Identity, error) {
	key := strings.TrimSpace(usernameOrEmail)
	rec, err := s.getOne(ctx, s.db, `WHERE username = ?`, key)
	if errors.Is(err, credstore.ErrNotFound) {
		return s.getOne(ctx, s.db, `WHERE email = ?`, key)
	}
	return rec, err
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*credstore.Identity, error) {
	return s.getOne(ctx, s.db, `WHERE email = ?`, strings.TrimSpace(email))
}

func (s *Store) GetByProvider(ctx context.Context, provider, providerUserID string) (*credstore.Identity, error) {
	return s.getOne(ctx, s.db,
		`WHERE id = (SELECT identity_id FROM oauth_links WHERE provider = ? AND provider_user_id = ?)`,
		provider, providerUserID)
}

func (s *Store) Create(ctx context.Context, identity *credstore.Identity) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	args, err := identityArgs(rec)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO identities (`+identityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...); err != nil {
		return mapConstraint(err)
	}
	if err := insertLinks(ctx, tx, rec.ID, rec.OAuthProviders); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}

	identity.ID = rec.ID
	identity.CreatedAt = rec.CreatedAt
	identity.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *Store) Update(ctx context.Context, id string, mutate credstore.Mutation) (*credstore.Identity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.getOne(ctx, tx, `WHERE id = ?`, id)
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

	args, err := identityArgs(next)
	if err != nil {
		return nil, err
	}
	// identityArgs leads with id and ends with created_at, updated_at, last counter.
	_, err = tx.ExecContext(ctx, `UPDATE identities SET
		username = ?, email = ?, password_hash = ?, email_verified = ?,
		two_factor_enabled = ?, two_factor_secret = ?, backup_codes = ?,
		two_factor_secret_tmp = ?, backup_codes_tmp = ?, is_active = ?, updated_at = ?,
		two_factor_last_counter = ?
		WHERE id = ?`,
		append(append([]any{}, args[1:11]...), args[12], args[13], next.ID)...,
	)
	if err != nil {
		return nil, mapConstraint(err)
	}

	for provider, old := range current.OAuthProviders {
		cur, ok := next.OAuthProviders[provider]
		if ok && cur.ProviderUserID == old.ProviderUserID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_links WHERE identity_id = ? AND provider = ?`, next.ID, provider); err != nil {
			return nil, fmt.Errorf("sqlite: unlink %s: %w", provider, err)
		}
	}
	added := map[string]credstore.OAuthLink{}
	for provider, cur := range next.OAuthProviders {
		if old, ok := current.OAuthProviders[provider]; !ok || old.ProviderUserID != cur.ProviderUserID {
			added[provider] = cur
		}
	}
	if err := insertLinks(ctx, tx, next.ID, added); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return next, nil
}

func (s *Store) getOne(ctx context.Context, q querier, where string, args ...any) (*credstore.Identity, error) {
	var (
		rec                              credstore.Identity
		username, email, password        sql.NullString
		secret, secretTmp                sql.NullString
		codesJSON, codesTmpJSON          sql.NullString
		emailVerified, enabled, isActive bool
		createdAt, updatedAt, counter    int64
	)
	err := q.QueryRowContext(ctx, selectIdentitiesQuery+where, args...).Scan(
		&rec.ID, &username, &email, &password, &emailVerified,
		&enabled, &secret, &codesJSON, &secretTmp, &codesTmpJSON,
		&isActive, &createdAt, &updatedAt, &counter,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credstore.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get: %w", err)
	}

	cols := credstore.TwoFactorColumns{Enabled: enabled, LastCounter: counter}
	if secret.Valid {
		cols.Secret = &secret.String
	}
	if secretTmp.Valid {
		cols.SecretTmp = &secretTmp.String
	}
	if cols.BackupCodes, err = decodeCodes(codesJSON); err != nil {
		return nil, err
	}
	if cols.BackupCodesTmp, err = decodeCodes(codesTmpJSON); err != nil {
		return nil, err
	}
	tf, err := credstore.TwoFactorFromColumns(cols)
	if err != nil {
		return nil, err
	}

	rec.Username = username.String
	rec.Email = email.String
	rec.PasswordHash = password.String
	rec.EmailVerified = emailVerified
	rec.IsActive = isActive
	rec.TwoFactor = tf
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)

	links, err := loadLinks(ctx, q, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.OAuthProviders = links
	return &rec, nil
}

func loadLinks(ctx context.Context, q querier, identityID string) (map[string]credstore.OAuthLink, error) {
	rows, err := q.QueryContext(ctx, `SELECT provider, provider_user_id, linked_at FROM oauth_links WHERE identity_id = ?`, identityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load links: %w", err)
	}
	defer rows.Close()

	links := map[string]credstore.OAuthLink{}
	for rows.Next() {
		var provider, providerUserID string
		var linkedAt int64
		if err := rows.Scan(&provider, &providerUserID, &linkedAt); err != nil {
			return nil, fmt.Errorf("sqlite: load links: %w", err)
		}
		links[provider] = credstore.OAuthLink{ProviderUserID: providerUserID, LinkedAt: fromMillis(linkedAt)}
	}
	return links, rows.Err()
}

func insertLinks(ctx context.Context, q querier, identityID string, links map[string]credstore.OAuthLink) error {
	for provider, link := range links {
		linkedAt := link.LinkedAt
		if linkedAt.IsZero() {
			linkedAt = time.Now()
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO oauth_links (identity_id, provider, provider_user_id, linked_at) VALUES (?, ?, ?, ?)`,
			identityID, provider, link.ProviderUserID, toMillis(linkedAt)); err != nil {
			return mapConstraint(err)
		}
	}
	return nil
}

func identityArgs(rec *credstore.Identity) ([]any, error) {
	cols := rec.TwoFactor.Columns()
	codes, err := encodeCodes(cols.BackupCodes)
	if err != nil {
		return nil, err
	}
	codesTmp, err := encodeCodes(cols.BackupCodesTmp)
	if err != nil {
		return nil, err
	}
	return []any{
		rec.ID, nullString(rec.Username), nullString(rec.Email), nullString(rec.PasswordHash), rec.EmailVerified,
		cols.Enabled, ptrString(cols.Secret), codes, ptrString(cols.SecretTmp), codesTmp,
		rec.IsActive, toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt), cols.LastCounter,
	}, nil
}

func encodeCodes(codes []string) (sql.NullString, error) {
	if codes == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(codes)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeCodes(v sql.NullString) ([]string, error) {
	if !v.Valid {
		return nil, nil
	}
	codes := []string{}
	if err := json.Unmarshal([]byte(v.String), &codes); err != nil {
		return nil, credstore.ErrInvalidRecord
	}
	return codes, nil
}

func mapConstraint(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		if strings.Contains(msg, "oauth_links") {
			return credstore.ErrProviderConflict
		}
		return credstore.ErrConflict
	}
	return fmt.Errorf("sqlite: %w", err)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func ptrString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

var (
	_ credstore.Store  = (*Store)(nil)
	_ credstore.Pinger = (*Store)(nil)
)
