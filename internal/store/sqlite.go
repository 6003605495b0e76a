// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides mapping/credential persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS model_mappings (
			logical_key TEXT PRIMARY KEY,
			dialect TEXT NOT NULL,
			vendor_model_id TEXT NOT NULL,
			credential_ref TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_model_mappings_active
			ON model_mappings(active);

		CREATE TABLE IF NOT EXISTS credentials (
			ref TEXT PRIMARY KEY,
			api_key TEXT NOT NULL,
			base_url TEXT NOT NULL DEFAULT '',
			expires_at DATETIME,
			offline INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// ListMappings returns all mappings, active or not, ordered by logical key.
func (s *SQLiteStore) ListMappings(ctx context.Context) ([]*ModelMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT logical_key, dialect, vendor_model_id, credential_ref, active, created_at, updated_at
		FROM model_mappings ORDER BY logical_key`)
	if err != nil {
		return nil, fmt.Errorf("listing mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*ModelMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// GetMapping returns the mapping for a logical key, or ErrNotFound.
func (s *SQLiteStore) GetMapping(ctx context.Context, logicalKey string) (*ModelMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT logical_key, dialect, vendor_model_id, credential_ref, active, created_at, updated_at
		FROM model_mappings WHERE logical_key = ?`, logicalKey)

	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpsertMapping inserts or replaces a mapping, preserving created_at on update.
func (s *SQLiteStore) UpsertMapping(ctx context.Context, m *ModelMapping) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_mappings (logical_key, dialect, vendor_model_id, credential_ref, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(logical_key) DO UPDATE SET
			dialect = excluded.dialect,
			vendor_model_id = excluded.vendor_model_id,
			credential_ref = excluded.credential_ref,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		m.LogicalKey, m.Dialect, m.VendorModelID, m.CredentialRef, boolToInt(m.Active), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting mapping %q: %w", m.LogicalKey, err)
	}
	return nil
}

// DeleteMapping removes a mapping, returning ErrNotFound if absent.
func (s *SQLiteStore) DeleteMapping(ctx context.Context, logicalKey string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_mappings WHERE logical_key = ?`, logicalKey)
	if err != nil {
		return fmt.Errorf("deleting mapping %q: %w", logicalKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCredentials returns all credentials ordered by ref.
func (s *SQLiteStore) ListCredentials(ctx context.Context) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ref, api_key, base_url, expires_at, offline, updated_at
		FROM credentials ORDER BY ref`)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// GetCredential returns the credential for a ref, or ErrNotFound.
func (s *SQLiteStore) GetCredential(ctx context.Context, ref string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ref, api_key, base_url, expires_at, offline, updated_at
		FROM credentials WHERE ref = ?`, ref)

	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpsertCredential inserts or replaces a credential.
func (s *SQLiteStore) UpsertCredential(ctx context.Context, c *Credential) error {
	c.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (ref, api_key, base_url, expires_at, offline, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET
			api_key = excluded.api_key,
			base_url = excluded.base_url,
			expires_at = excluded.expires_at,
			offline = excluded.offline,
			updated_at = excluded.updated_at`,
		c.Ref, c.APIKey, c.BaseURL, c.ExpiresAt, boolToInt(c.Offline), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting credential %q: %w", c.Ref, err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanMapping(row scanner) (*ModelMapping, error) {
	var m ModelMapping
	var active int
	if err := row.Scan(&m.LogicalKey, &m.Dialect, &m.VendorModelID, &m.CredentialRef, &active, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Active = active != 0
	return &m, nil
}

func scanCredential(row scanner) (*Credential, error) {
	var c Credential
	var offline int
	var expires sql.NullTime
	if err := row.Scan(&c.Ref, &c.APIKey, &c.BaseURL, &expires, &offline, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		c.ExpiresAt = &t
	}
	c.Offline = offline != 0
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
