// Package store persists installations, modifications, installed
// extensions and settings groups.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS extension_install (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    filename    TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS extension_path (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    install_id  INTEGER NOT NULL REFERENCES extension_install(id) ON DELETE CASCADE,
    path        TEXT NOT NULL,
    is_dir      INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extension_path_install ON extension_path(install_id);

CREATE TABLE IF NOT EXISTS extension (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    type    TEXT NOT NULL,
    code    TEXT NOT NULL,
    UNIQUE (type, code)
);

CREATE TABLE IF NOT EXISTS modification (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    install_id  INTEGER NOT NULL DEFAULT 0,
    name        TEXT NOT NULL,
    code        TEXT NOT NULL,
    author      TEXT NOT NULL DEFAULT '',
    version     TEXT NOT NULL DEFAULT '',
    link        TEXT NOT NULL DEFAULT '',
    xml         TEXT NOT NULL,
    status      INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_modification_code ON modification(code);
CREATE INDEX IF NOT EXISTS idx_modification_install ON modification(install_id);

CREATE TABLE IF NOT EXISTS setting (
    grp     TEXT NOT NULL,
    key     TEXT NOT NULL,
    value   TEXT NOT NULL,
    PRIMARY KEY (grp, key)
);
`

// Store is the SQLite-backed registry. It implements
// registry.ExtensionRegistry, registry.ModificationRegistry and
// registry.SettingsStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ registry.ExtensionRegistry    = (*Store)(nil)
	_ registry.ModificationRegistry = (*Store)(nil)
	_ registry.SettingsStore        = (*Store)(nil)
)

// Open opens or creates the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// AddInstall creates an installation record and returns its id.
func (s *Store) AddInstall(ctx context.Context, filename string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO extension_install (filename, created_at) VALUES (?, ?)`,
		filename, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert install: %w", err)
	}
	return res.LastInsertId()
}

// AddPath records one path written by an installation.
func (s *Store) AddPath(ctx context.Context, installID int64, p registry.PathRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extension_path (install_id, path, is_dir, created_at) VALUES (?, ?, ?, ?)`,
		installID, p.Path, p.Dir, s.now().Unix())
	if err != nil {
		return fmt.Errorf("insert path %s: %w", p.Path, err)
	}
	return nil
}

// GetInstall returns an installation with its paths in insertion order.
func (s *Store) GetInstall(ctx context.Context, installID int64) (*registry.InstalledRecord, error) {
	var rec registry.InstalledRecord
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, created_at FROM extension_install WHERE id = ?`, installID,
	).Scan(&rec.ID, &rec.Filename, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, registry.ErrNotFound
		}
		return nil, fmt.Errorf("get install: %w", err)
	}
	rec.CreatedAt = time.Unix(created, 0)

	paths, err := s.paths(ctx, installID)
	if err != nil {
		return nil, err
	}
	rec.Paths = paths
	return &rec, nil
}

func (s *Store) paths(ctx context.Context, installID int64) ([]registry.PathRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, is_dir FROM extension_path WHERE install_id = ? ORDER BY id`, installID)
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer rows.Close()

	var paths []registry.PathRecord
	for rows.Next() {
		var p registry.PathRecord
		if err := rows.Scan(&p.Path, &p.Dir); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ListInstalls returns every installation, newest first.
func (s *Store) ListInstalls(ctx context.Context) ([]registry.InstalledRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, created_at FROM extension_install ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query installs: %w", err)
	}
	var recs []registry.InstalledRecord
	for rows.Next() {
		var rec registry.InstalledRecord
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Filename, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan install: %w", err)
		}
		rec.CreatedAt = time.Unix(created, 0)
		recs = append(recs, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recs {
		paths, err := s.paths(ctx, recs[i].ID)
		if err != nil {
			return nil, err
		}
		recs[i].Paths = paths
	}
	return recs, nil
}

// DeleteInstall removes an installation and its path records.
func (s *Store) DeleteInstall(ctx context.Context, installID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM extension_path WHERE install_id = ?`, installID); err != nil {
		return fmt.Errorf("delete paths: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM extension_install WHERE id = ?`, installID); err != nil {
		return fmt.Errorf("delete install: %w", err)
	}
	return tx.Commit()
}

// InstalledExtensions returns the codes installed for kind.
func (s *Store) InstalledExtensions(ctx context.Context, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code FROM extension WHERE type = ? ORDER BY code`, kind)
	if err != nil {
		return nil, fmt.Errorf("query extensions: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan extension: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// InstallExtension registers (kind, code). Registering twice is a no-op.
func (s *Store) InstallExtension(ctx context.Context, kind, code string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO extension (type, code) VALUES (?, ?)`, kind, code)
	if err != nil {
		return fmt.Errorf("insert extension %s/%s: %w", kind, code, err)
	}
	return nil
}

const modificationColumns = `id, install_id, name, code, author, version, link, xml, status, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanModification(row scanner) (*registry.Modification, error) {
	var m registry.Modification
	var created int64
	if err := row.Scan(&m.ID, &m.InstallID, &m.Name, &m.Code, &m.Author, &m.Version, &m.Link, &m.XML, &m.Status, &created); err != nil {
		return nil, err
	}
	m.CreatedAt = time.Unix(created, 0)
	return &m, nil
}

// ModificationByCode returns the most recent modification with code.
func (s *Store) ModificationByCode(ctx context.Context, code string) (*registry.Modification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+modificationColumns+` FROM modification WHERE code = ? ORDER BY id DESC LIMIT 1`, code)
	m, err := scanModification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, registry.ErrNotFound
		}
		return nil, fmt.Errorf("get modification %s: %w", code, err)
	}
	return m, nil
}

// AddModification stores m and returns its id.
func (s *Store) AddModification(ctx context.Context, m *registry.Modification) (int64, error) {
	created := m.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO modification (install_id, name, code, author, version, link, xml, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.InstallID, m.Name, m.Code, m.Author, m.Version, m.Link, m.XML, m.Status, created.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert modification %s: %w", m.Code, err)
	}
	return res.LastInsertId()
}

// DeleteModification removes one modification.
func (s *Store) DeleteModification(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM modification WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete modification: %w", err)
	}
	return nil
}

// DeleteModificationsByInstall removes every modification registered by an
// installation.
func (s *Store) DeleteModificationsByInstall(ctx context.Context, installID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM modification WHERE install_id = ?`, installID); err != nil {
		return fmt.Errorf("delete modifications of install %d: %w", installID, err)
	}
	return nil
}

// ActiveModifications returns enabled modifications in registration order.
func (s *Store) ActiveModifications(ctx context.Context) ([]registry.Modification, error) {
	return s.queryModifications(ctx, `SELECT `+modificationColumns+` FROM modification WHERE status = 1 ORDER BY id`)
}

// ListModifications returns every modification in registration order.
func (s *Store) ListModifications(ctx context.Context) ([]registry.Modification, error) {
	return s.queryModifications(ctx, `SELECT `+modificationColumns+` FROM modification ORDER BY id`)
}

func (s *Store) queryModifications(ctx context.Context, query string) ([]registry.Modification, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query modifications: %w", err)
	}
	defer rows.Close()

	var mods []registry.Modification
	for rows.Next() {
		m, err := scanModification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan modification: %w", err)
		}
		mods = append(mods, *m)
	}
	return mods, rows.Err()
}

// GetSetting returns the key/value pairs of a settings group. A missing
// group is empty, not an error.
func (s *Store) GetSetting(ctx context.Context, group string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM setting WHERE grp = ?`, group)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		values[k] = v
	}
	return values, rows.Err()
}

// EditSetting replaces the whole group with values.
func (s *Store) EditSetting(ctx context.Context, group string, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM setting WHERE grp = ?`, group); err != nil {
		return fmt.Errorf("clear settings %s: %w", group, err)
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO setting (grp, key, value) VALUES (?, ?, ?)`, group, k, v); err != nil {
			return fmt.Errorf("insert setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}
