package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore reads the embedded auth_kv database written by the Kiro CLI.
// Schema: auth_kv(key TEXT PRIMARY KEY, value TEXT).
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the KV database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeErr(KindKV, "open", err)
	}
	// The Kiro CLI writes to the same file; a single connection avoids
	// SQLITE_BUSY churn on concurrent reloads.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Kind() string { return KindKV }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping verifies the auth_kv table is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM auth_kv").Scan(&n)
	return storeErr(KindKV, "ping", err)
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]*Record, error) {
	tokens := make(map[string][]byte)
	for _, base := range TokenKeys {
		rows, err := s.db.QueryContext(ctx,
			"SELECT key, value FROM auth_kv WHERE key = ? OR key LIKE ? ORDER BY key ASC",
			base, base+":%")
		if err != nil {
			return nil, storeErr(KindKV, "load token keys", err)
		}
		if err := scanRows(rows, tokens); err != nil {
			return nil, storeErr(KindKV, "scan token keys", err)
		}
	}

	registrations := make(map[string][]byte)
	for _, base := range RegistrationKeys {
		rows, err := s.db.QueryContext(ctx,
			"SELECT key, value FROM auth_kv WHERE key = ? OR key LIKE ? ORDER BY key ASC",
			base, base+":%")
		if err != nil {
			return nil, storeErr(KindKV, "load registration keys", err)
		}
		if err := scanRows(rows, registrations); err != nil {
			return nil, storeErr(KindKV, "scan registration keys", err)
		}
	}

	recs, err := assembleRecords(tokens, registrations)
	if err != nil {
		return nil, storeErr(KindKV, "parse", err)
	}
	return recs, nil
}

func (s *SQLiteStore) LoadByKey(ctx context.Context, key string) (*Record, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM auth_kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(KindKV, "load "+key, err)
	}

	rec, err := parseTokenPayload(key, []byte(value))
	if err != nil {
		return nil, storeErr(KindKV, "parse "+key, err)
	}
	for _, regKey := range registrationCandidates(key) {
		var regValue string
		err := s.db.QueryRowContext(ctx, "SELECT value FROM auth_kv WHERE key = ?", regKey).Scan(&regValue)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, storeErr(KindKV, "load registration "+regKey, err)
		}
		if reg, err := parseRegistrationPayload([]byte(regValue)); err == nil {
			rec.ClientID = reg.ClientID
			rec.ClientSecret = reg.ClientSecret
			if rec.SSORegion == "" {
				rec.SSORegion = reg.Region
			}
			break
		}
	}
	rec.DetectMechanism()
	return rec, nil
}

// Save updates the value at the record's key. Pre-existing keys only; a
// missing key reports ErrNotFound so the manager can try other candidates.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	payload, err := encodeTokenPayload(rec)
	if err != nil {
		return storeErr(KindKV, "encode "+rec.Key, err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE auth_kv SET value = ? WHERE key = ?", string(payload), rec.Key)
	if err != nil {
		return storeErr(KindKV, "save "+rec.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(KindKV, "save "+rec.Key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRows(rows *sql.Rows, dst map[string][]byte) error {
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if _, dup := dst[key]; dup {
			continue
		}
		dst[key] = []byte(value)
	}
	return rows.Err()
}

var _ Store = (*SQLiteStore)(nil)

// CreateSchema creates the auth_kv table if missing. Used by tests and by
// deployments that seed the database out of band.
func (s *SQLiteStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS auth_kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)")
	return storeErr(KindKV, "create schema", err)
}

// Seed inserts or replaces a raw key/value pair. Test helper.
func (s *SQLiteStore) Seed(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO auth_kv(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("seed %s: %w", key, err)
	}
	return nil
}
