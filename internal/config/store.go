package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/keygate/keygate/internal/model"
)

// Supported store drivers.
const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
)

// DefaultStoreTimeout bounds every store call that arrives without its own
// deadline.
const DefaultStoreTimeout = 5 * time.Second

// StoreConfig selects and tunes the database backing the key store.
type StoreConfig struct {
	Driver       string        // sqlite (default), postgres, mysql, sqlserver
	DSN          string        // required for every driver but sqlite
	DataDir      string        // sqlite only; empty means in-memory
	MaxOpenConns int           // ignored for sqlite
	Timeout      time.Duration // per-operation bound
}

// Store persists API keys and their metadata. It is the only component that
// talks to the database and is safe for concurrent use.
type Store struct {
	db      *sqlx.DB
	driver  string
	timeout time.Duration
	now     func() time.Time
}

// NewStore creates a SQLite-backed store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return OpenStore(StoreConfig{Driver: DriverSQLite, DataDir: dataDir})
}

// OpenStore connects to the configured database and applies migrations.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultStoreTimeout
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		db, err = openSQLite(cfg.DataDir)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("store.dsn is required for postgres")
		}
		db, err = sqlx.Connect("pgx", cfg.DSN)
	case DriverMySQL:
		if cfg.DSN == "" {
			return nil, errors.New("store.dsn is required for mysql")
		}
		var dsn string
		dsn, err = normalizeMySQLDSN(cfg.DSN)
		if err == nil {
			db, err = sqlx.Connect("mysql", dsn)
		}
	case DriverSQLServer:
		if cfg.DSN == "" {
			return nil, errors.New("store.dsn is required for sqlserver")
		}
		db, err = sqlx.Connect("sqlserver", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open key database: %w", err)
	}

	if cfg.Driver != DriverSQLite && cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	s := &Store{
		db:      db,
		driver:  cfg.Driver,
		timeout: cfg.Timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate key database: %w", err)
	}
	return s, nil
}

func openSQLite(dataDir string) (*sqlx.DB, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "keygate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite) so metadata cascades.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// normalizeMySQLDSN forces the options the store relies on: DATETIME columns
// scanned as time.Time, and UPDATE reporting matched rather than changed rows.
func normalizeMySQLDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.ClientFoundRows = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// bound applies the store timeout unless the caller already set a tighter
// deadline.
func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) <= s.timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// ---------------------------------------------------------------------------
// API Key CRUD
// ---------------------------------------------------------------------------

const apiKeyColumns = `id, name, key_hash, last4, revoked, created_at`

// CreateAPIKey inserts a key row and then, if meta is non-nil, its metadata
// row. ID and CreatedAt are assigned when empty. A metadata failure after the
// key row is committed is returned as *MetadataError; the key is kept.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey, meta *model.Metadata) error {
	if key.ID == "" {
		key.ID = newID()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = s.now()
	}

	bctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.NamedExecContext(bctx, `
		INSERT INTO api_keys (id, name, key_hash, last4, revoked, created_at)
		VALUES (:id, :name, :key_hash, :last4, :revoked, :created_at)`, key)
	if err != nil {
		return unavailable("insert api key", err)
	}

	if meta == nil {
		return nil
	}
	meta.APIKeyID = key.ID
	if err := s.insertMetadata(ctx, meta); err != nil {
		return &MetadataError{KeyID: key.ID, Err: err}
	}
	key.Metadata = meta
	return nil
}

// GetAPIKeyByHash looks up a key by its SHA-256 digest. Revoked keys are
// returned so callers can tell "revoked" from "not found".
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	return s.getAPIKey(ctx, "key_hash", keyHash)
}

// GetAPIKeyByID looks up a key by its identifier.
func (s *Store) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	return s.getAPIKey(ctx, "id", id)
}

func (s *Store) getAPIKey(ctx context.Context, column, value string) (*model.APIKey, error) {
	bctx, cancel := s.bound(ctx)
	defer cancel()

	var key model.APIKey
	query := s.db.Rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE ` + column + ` = ?`)
	if err := s.db.GetContext(bctx, &key, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get api key", err)
	}

	meta, err := s.GetMetadata(ctx, key.ID)
	switch {
	case err == nil:
		key.Metadata = meta
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys returns keys newest first. Revoked keys are skipped unless
// includeRevoked is set. Ties on created_at are broken by id so repeated
// calls return a stable order.
func (s *Store) ListAPIKeys(ctx context.Context, includeRevoked bool) ([]model.APIKey, error) {
	bctx, cancel := s.bound(ctx)
	defer cancel()

	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []any
	if !includeRevoked {
		query += ` WHERE revoked = ?`
		args = append(args, false)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var keys []model.APIKey
	if err := s.db.SelectContext(bctx, &keys, s.db.Rebind(query), args...); err != nil {
		return nil, unavailable("list api keys", err)
	}
	if len(keys) == 0 {
		return []model.APIKey{}, nil
	}

	ids := make([]string, len(keys))
	for i := range keys {
		ids[i] = keys[i].ID
	}
	metas, err := s.metadataFor(bctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].Metadata = metas[keys[i].ID]
	}
	return keys, nil
}

// ListActiveAPIKeys returns non-revoked keys, newest first.
func (s *Store) ListActiveAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	return s.ListAPIKeys(ctx, false)
}

// RevokeAPIKey marks a key revoked. It reports true only when this call moved
// the key from active to revoked; a missing or already revoked key yields
// false with no error.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) (bool, error) {
	bctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(bctx,
		s.db.Rebind(`UPDATE api_keys SET revoked = ? WHERE id = ? AND revoked = ?`), true, id, false)
	if err != nil {
		return false, unavailable("revoke api key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("revoke api key", err)
	}
	return n > 0, nil
}

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

// metadataRow is a flat struct that maps 1:1 to the key_metadata table. The
// attribute map is stored as a JSON object.
type metadataRow struct {
	ID             string    `db:"id"`
	APIKeyID       string    `db:"api_key_id"`
	Kind           string    `db:"kind"`
	AttributesJSON string    `db:"attributes_json"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

const metadataColumns = `id, api_key_id, kind, attributes_json, created_at, updated_at`

func metadataRowFromModel(m *model.Metadata) (metadataRow, error) {
	attrs := m.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return metadataRow{}, fmt.Errorf("marshal attributes: %w", err)
	}
	return metadataRow{
		ID:             m.ID,
		APIKeyID:       m.APIKeyID,
		Kind:           m.Kind,
		AttributesJSON: string(data),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func (r metadataRow) toModel() (*model.Metadata, error) {
	attrs := map[string]string{}
	if r.AttributesJSON != "" {
		if err := json.Unmarshal([]byte(r.AttributesJSON), &attrs); err != nil {
			return nil, fmt.Errorf("decode attributes for key %s: %w", r.APIKeyID, err)
		}
	}
	return &model.Metadata{
		ID:         r.ID,
		APIKeyID:   r.APIKeyID,
		Kind:       r.Kind,
		Attributes: attrs,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

func (s *Store) insertMetadata(ctx context.Context, m *model.Metadata) error {
	if m.ID == "" {
		m.ID = newID()
	}
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	row, err := metadataRowFromModel(m)
	if err != nil {
		return err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO key_metadata (id, api_key_id, kind, attributes_json, created_at, updated_at)
		VALUES (:id, :api_key_id, :kind, :attributes_json, :created_at, :updated_at)`, row)
	if err != nil {
		return unavailable("insert key metadata", err)
	}
	return nil
}

// GetMetadata returns the metadata attached to a key, or ErrNotFound.
func (s *Store) GetMetadata(ctx context.Context, apiKeyID string) (*model.Metadata, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var row metadataRow
	query := s.db.Rebind(`SELECT ` + metadataColumns + ` FROM key_metadata WHERE api_key_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, apiKeyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get key metadata", err)
	}
	return row.toModel()
}

func (s *Store) metadataFor(ctx context.Context, ids []string) (map[string]*model.Metadata, error) {
	query, args, err := sqlx.In(`SELECT `+metadataColumns+` FROM key_metadata WHERE api_key_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build metadata query: %w", err)
	}

	var rows []metadataRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, unavailable("list key metadata", err)
	}

	out := make(map[string]*model.Metadata, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out[r.APIKeyID] = m
	}
	return out, nil
}

// UpsertMetadata attaches metadata to an existing key, replacing any record
// already there. Returns ErrNotFound when the key does not exist.
func (s *Store) UpsertMetadata(ctx context.Context, m *model.Metadata) error {
	err := s.upsertMetadata(ctx, m)
	if err != nil && isUniqueViolation(err) {
		// A concurrent writer inserted first; the row now exists.
		err = s.upsertMetadata(ctx, m)
	}
	return err
}

func (s *Store) upsertMetadata(ctx context.Context, m *model.Metadata) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("begin metadata upsert", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM api_keys WHERE id = ?`), m.APIKeyID)
	if err != nil {
		return unavailable("check api key", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	now := s.now()
	m.UpdatedAt = now
	row, err := metadataRowFromModel(m)
	if err != nil {
		return err
	}

	res, err := tx.NamedExecContext(ctx, `
		UPDATE key_metadata SET kind = :kind, attributes_json = :attributes_json, updated_at = :updated_at
		WHERE api_key_id = :api_key_id`, row)
	if err != nil {
		return unavailable("update key metadata", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update key metadata", err)
	}

	if n == 0 {
		if m.ID == "" {
			m.ID = newID()
		}
		m.CreatedAt = now
		row.ID = m.ID
		row.CreatedAt = now
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO key_metadata (id, api_key_id, kind, attributes_json, created_at, updated_at)
			VALUES (:id, :api_key_id, :kind, :attributes_json, :created_at, :updated_at)`, row)
		if err != nil {
			return unavailable("insert key metadata", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit metadata upsert", err)
	}

	if n > 0 {
		// Pick up the stored identity of the existing record.
		stored, err := s.GetMetadata(context.WithoutCancel(ctx), m.APIKeyID)
		if err == nil {
			*m = *stored
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "violation of unique key")
}
