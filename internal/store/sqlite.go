// Package store provides the sqlite-backed entity store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/models"
)

// SQLiteStore implements Store on a local sqlite database.
type SQLiteStore struct {
	db   *sql.DB
	lock *advisoryLock
}

const schema = `
CREATE TABLE IF NOT EXISTS cards (
	id TEXT PRIMARY KEY,
	folder_id TEXT NOT NULL DEFAULT '',
	front TEXT NOT NULL DEFAULT '',
	back TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '',
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0,
	sync_version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS folders (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	parent_id TEXT NOT NULL DEFAULT '',
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0,
	sync_version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tags (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0,
	sync_version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT '',
	is_deleted INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0,
	sync_version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS app_state (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// Open opens (or creates) the Recallbox database under dataDir.
// The database is opened with WAL mode and a single writer, matching
// sqlite's concurrency model.
func Open(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "recallbox.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &SQLiteStore{db: db, lock: newAdvisoryLock()}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Acquire implements Store.
func (s *SQLiteStore) Acquire(ctx context.Context) (func(), error) {
	return s.lock.Acquire(ctx)
}

// GetCards implements Store.
func (s *SQLiteStore) GetCards(ctx context.Context) ([]*models.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, folder_id, front, back, tags, is_deleted, created_at, updated_at, sync_version
		 FROM cards ORDER BY id`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "query cards", err)
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		c := &models.Card{}
		if err := rows.Scan(&c.ID, &c.FolderID, &c.Front, &c.Back, &c.Tags,
			&c.IsDeleted, &c.CreatedAt, &c.UpdatedAt, &c.SyncVersion); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageRead, "scan card", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// SaveCards implements Store. The batch commits atomically.
func (s *SQLiteStore) SaveCards(ctx context.Context, cards []*models.Card) error {
	return s.inTx(ctx, "save cards", func(tx *sql.Tx) error {
		for _, c := range cards {
			if err := upsertCard(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertCard(ctx context.Context, tx *sql.Tx, c *models.Card) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO cards (id, folder_id, front, back, tags, is_deleted, created_at, updated_at, sync_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			folder_id=excluded.folder_id, front=excluded.front, back=excluded.back,
			tags=excluded.tags, is_deleted=excluded.is_deleted,
			updated_at=excluded.updated_at, sync_version=excluded.sync_version`,
		c.ID, c.FolderID, c.Front, c.Back, c.Tags, c.IsDeleted,
		c.CreatedAt, c.UpdatedAt, c.SyncVersion)
	return err
}

// DeleteCards implements Store.
func (s *SQLiteStore) DeleteCards(ctx context.Context, ids []string) error {
	return s.deleteByID(ctx, "cards", "id", ids)
}

// GetFolders implements Store.
func (s *SQLiteStore) GetFolders(ctx context.Context) ([]*models.Folder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, parent_id, is_deleted, created_at, updated_at, sync_version
		 FROM folders ORDER BY id`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "query folders", err)
	}
	defer rows.Close()

	var folders []*models.Folder
	for rows.Next() {
		f := &models.Folder{}
		if err := rows.Scan(&f.ID, &f.Name, &f.ParentID, &f.IsDeleted,
			&f.CreatedAt, &f.UpdatedAt, &f.SyncVersion); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageRead, "scan folder", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// SaveFolders implements Store.
func (s *SQLiteStore) SaveFolders(ctx context.Context, folders []*models.Folder) error {
	return s.inTx(ctx, "save folders", func(tx *sql.Tx) error {
		for _, f := range folders {
			if err := upsertFolder(ctx, tx, f); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertFolder(ctx context.Context, tx *sql.Tx, f *models.Folder) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO folders (id, name, parent_id, is_deleted, created_at, updated_at, sync_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, parent_id=excluded.parent_id, is_deleted=excluded.is_deleted,
			updated_at=excluded.updated_at, sync_version=excluded.sync_version`,
		f.ID, f.Name, f.ParentID, f.IsDeleted, f.CreatedAt, f.UpdatedAt, f.SyncVersion)
	return err
}

// DeleteFolders implements Store.
func (s *SQLiteStore) DeleteFolders(ctx context.Context, ids []string) error {
	return s.deleteByID(ctx, "folders", "id", ids)
}

// GetTags implements Store.
func (s *SQLiteStore) GetTags(ctx context.Context) ([]*models.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, color, is_deleted, created_at, updated_at, sync_version
		 FROM tags ORDER BY id`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "query tags", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		t := &models.Tag{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.IsDeleted,
			&t.CreatedAt, &t.UpdatedAt, &t.SyncVersion); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageRead, "scan tag", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// SaveTags implements Store.
func (s *SQLiteStore) SaveTags(ctx context.Context, tags []*models.Tag) error {
	return s.inTx(ctx, "save tags", func(tx *sql.Tx) error {
		for _, t := range tags {
			if err := upsertTag(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertTag(ctx context.Context, tx *sql.Tx, t *models.Tag) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tags (id, name, color, is_deleted, created_at, updated_at, sync_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, color=excluded.color, is_deleted=excluded.is_deleted,
			updated_at=excluded.updated_at, sync_version=excluded.sync_version`,
		t.ID, t.Name, t.Color, t.IsDeleted, t.CreatedAt, t.UpdatedAt, t.SyncVersion)
	return err
}

// DeleteTags implements Store.
func (s *SQLiteStore) DeleteTags(ctx context.Context, ids []string) error {
	return s.deleteByID(ctx, "tags", "id", ids)
}

// GetSettings implements Store.
func (s *SQLiteStore) GetSettings(ctx context.Context) ([]*models.Setting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, is_deleted, updated_at, sync_version FROM settings ORDER BY key`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "query settings", err)
	}
	defer rows.Close()

	var settings []*models.Setting
	for rows.Next() {
		st := &models.Setting{}
		if err := rows.Scan(&st.Key, &st.Value, &st.IsDeleted, &st.UpdatedAt, &st.SyncVersion); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageRead, "scan setting", err)
		}
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

// SaveSettings implements Store.
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings []*models.Setting) error {
	return s.inTx(ctx, "save settings", func(tx *sql.Tx) error {
		for _, st := range settings {
			if err := upsertSetting(ctx, tx, st); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertSetting(ctx context.Context, tx *sql.Tx, st *models.Setting) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settings (key, value, is_deleted, updated_at, sync_version)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value=excluded.value, is_deleted=excluded.is_deleted,
			updated_at=excluded.updated_at, sync_version=excluded.sync_version`,
		st.Key, st.Value, st.IsDeleted, st.UpdatedAt, st.SyncVersion)
	return err
}

// DeleteSettings implements Store.
func (s *SQLiteStore) DeleteSettings(ctx context.Context, ids []string) error {
	return s.deleteByID(ctx, "settings", "key", ids)
}

// Apply implements Store. Deletes run before upserts inside one transaction,
// so a failure anywhere rolls the whole collection write back.
func (s *SQLiteStore) Apply(ctx context.Context, kind models.EntityKind, deletes []string, writes []models.EntityPayload) error {
	if len(deletes) == 0 && len(writes) == 0 {
		return nil
	}
	table, idCol := tableFor(kind)
	return s.inTx(ctx, "apply "+string(kind), func(tx *sql.Tx) error {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, idCol)
		for _, id := range deletes {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		for _, p := range writes {
			if err := upsertPayload(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func tableFor(kind models.EntityKind) (table, idCol string) {
	switch kind {
	case models.KindFolder:
		return "folders", "id"
	case models.KindTag:
		return "tags", "id"
	case models.KindSetting:
		return "settings", "key"
	default:
		return "cards", "id"
	}
}

func upsertPayload(ctx context.Context, tx *sql.Tx, p models.EntityPayload) error {
	switch {
	case p.Card != nil:
		return upsertCard(ctx, tx, p.Card)
	case p.Folder != nil:
		return upsertFolder(ctx, tx, p.Folder)
	case p.Tag != nil:
		return upsertTag(ctx, tx, p.Tag)
	case p.Setting != nil:
		return upsertSetting(ctx, tx, p.Setting)
	}
	return nil
}

// GetState implements Store.
func (s *SQLiteStore) GetState(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "state key not found: "+key)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "query state", err)
	}
	return value, nil
}

// PutState implements Store.
func (s *SQLiteStore) PutState(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageWrite, "put state", err)
	}
	return nil
}

// DeleteState implements Store.
func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM app_state WHERE key = ?`, key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageWrite, "delete state", err)
	}
	return nil
}

// inTx runs fn inside a transaction, mapping failures to StorageWriteError.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageWrite, op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return apperrors.Wrap(apperrors.ErrStorageWrite, op, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageWrite, op, err)
	}
	return nil
}

// deleteByID deletes rows by id within one transaction.
func (s *SQLiteStore) deleteByID(ctx context.Context, table, idCol string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.inTx(ctx, "delete from "+table, func(tx *sql.Tx) error {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, idCol)
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
}
