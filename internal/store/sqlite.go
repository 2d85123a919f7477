package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erauner12/trendy-sync/internal/model"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	kind        TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	data        TEXT NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'synced',
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (kind, entity_id)
);

CREATE TABLE IF NOT EXISTS pending_mutations (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	idempotency_token TEXT NOT NULL UNIQUE,
	entity_kind       TEXT NOT NULL,
	operation         TEXT NOT NULL,
	entity_id         TEXT NOT NULL,
	payload           TEXT,
	attempts          INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT,
	last_attempt_at   TIMESTAMP,
	failed            INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pending_mutations_queue
	ON pending_mutations (failed, created_at, id);
`

// SQLite owns the local database file and hands out short-lived Store
// handles, one per logical sync operation.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the local store at path and
// ensures the schema exists. WAL keeps readers unblocked during sync
// writes; busy_timeout covers brief writer overlap between handles.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Factory returns a Factory producing fresh handles. Each handle pins
// one connection from the pool; Close releases it.
func (s *SQLite) Factory() Factory {
	return func(ctx context.Context) (Store, error) {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire store handle: %w", err)
		}
		return &sqliteStore{conn: conn}, nil
	}
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// sqliteStore is one short-lived handle: a pinned connection.
type sqliteStore struct {
	conn *sql.Conn
}

func (s *sqliteStore) Close() error {
	return s.conn.Close()
}

func (s *sqliteStore) UpsertEntity(ctx context.Context, rec EntityRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO entities (kind, entity_id, data, sync_status, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (kind, entity_id) DO UPDATE SET
			data        = excluded.data,
			sync_status = excluded.sync_status,
			updated_at  = CURRENT_TIMESTAMP
	`, rec.Kind, rec.EntityID, string(rec.Data), rec.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", rec.Kind, rec.EntityID, err)
	}
	return nil
}

func (s *sqliteStore) GetEntity(ctx context.Context, kind model.EntityKind, entityID string) (*EntityRecord, error) {
	var rec EntityRecord
	var data string
	err := s.conn.QueryRowContext(ctx, `
		SELECT kind, entity_id, data, sync_status
		FROM entities WHERE kind = ? AND entity_id = ?
	`, kind, entityID).Scan(&rec.Kind, &rec.EntityID, &data, &rec.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, entityID, err)
	}
	rec.Data = []byte(data)
	return &rec, nil
}

func (s *sqliteStore) DeleteEntity(ctx context.Context, kind model.EntityKind, entityID string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM entities WHERE kind = ? AND entity_id = ?`, kind, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", kind, entityID, err)
	}
	return nil
}

func (s *sqliteStore) SetEntityStatus(ctx context.Context, kind model.EntityKind, entityID string, status model.SyncStatus) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE entities SET sync_status = ? WHERE kind = ? AND entity_id = ?`,
		status, kind, entityID)
	if err != nil {
		return fmt.Errorf("failed to set status on %s %s: %w", kind, entityID, err)
	}
	return nil
}

func (s *sqliteStore) WipeEntities(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("failed to wipe entity cache: %w", err)
	}
	return nil
}

func (s *sqliteStore) ApplyRemoteOps(ctx context.Context, ops []RemoteOp) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if op.Delete {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM entities WHERE kind = ? AND entity_id = ?`,
				op.Kind, op.EntityID); err != nil {
				return fmt.Errorf("failed to apply remote delete of %s %s: %w", op.Kind, op.EntityID, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (kind, entity_id, data, sync_status, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (kind, entity_id) DO UPDATE SET
				data        = excluded.data,
				sync_status = excluded.sync_status,
				updated_at  = CURRENT_TIMESTAMP
		`, op.Kind, op.EntityID, string(op.Data), model.SyncStatusSynced); err != nil {
			return fmt.Errorf("failed to apply remote upsert of %s %s: %w", op.Kind, op.EntityID, err)
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) InsertMutation(ctx context.Context, m *model.PendingMutation) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO pending_mutations
			(idempotency_token, entity_kind, operation, entity_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.IdempotencyToken, m.EntityKind, m.Operation, m.EntityID, string(m.Payload), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

const mutationColumns = `
	id, idempotency_token, entity_kind, operation, entity_id,
	payload, attempts, last_error, last_attempt_at, failed, created_at`

func (s *sqliteStore) scanMutations(rows *sql.Rows) ([]model.PendingMutation, error) {
	defer rows.Close()

	var out []model.PendingMutation
	for rows.Next() {
		var m model.PendingMutation
		var payload, lastError sql.NullString
		var lastAttempt sql.NullTime
		if err := rows.Scan(&m.ID, &m.IdempotencyToken, &m.EntityKind, &m.Operation,
			&m.EntityID, &payload, &m.Attempts, &lastError, &lastAttempt,
			&m.Failed, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mutation row: %w", err)
		}
		if payload.Valid {
			m.Payload = []byte(payload.String)
		}
		m.LastError = lastError.String
		if lastAttempt.Valid {
			t := lastAttempt.Time
			m.LastAttemptAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PendingMutations(ctx context.Context) ([]model.PendingMutation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+mutationColumns+`
		FROM pending_mutations
		WHERE failed = 0
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending mutations: %w", err)
	}
	return s.scanMutations(rows)
}

func (s *sqliteStore) FailedMutations(ctx context.Context) ([]model.PendingMutation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+mutationColumns+`
		FROM pending_mutations
		WHERE failed = 1
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch failed mutations: %w", err)
	}
	return s.scanMutations(rows)
}

func (s *sqliteStore) DeleteMutation(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mutation %d: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) RecordMutationFailure(ctx context.Context, id int64, message string) (int, error) {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE pending_mutations
		SET attempts = attempts + 1, last_error = ?, last_attempt_at = ?
		WHERE id = ?
	`, message, time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to record failure on mutation %d: %w", id, err)
	}

	var attempts int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT attempts FROM pending_mutations WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to read attempts on mutation %d: %w", id, err)
	}
	return attempts, nil
}

func (s *sqliteStore) MarkMutationFailed(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE pending_mutations SET failed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark mutation %d failed: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) MutationCounts(ctx context.Context) (pending, failed int, err error) {
	err = s.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN failed = 0 THEN 1 END),
			COUNT(CASE WHEN failed = 1 THEN 1 END)
		FROM pending_mutations
	`).Scan(&pending, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return pending, failed, nil
}

func (s *sqliteStore) HasPendingDelete(ctx context.Context, kind model.EntityKind, entityID string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM pending_mutations
		WHERE entity_kind = ? AND entity_id = ? AND operation = ? AND failed = 0
	`, kind, entityID, model.OpDelete).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending delete for %s %s: %w", kind, entityID, err)
	}
	return n > 0, nil
}

func (s *sqliteStore) ApplyLocalWrite(ctx context.Context, rec *EntityRecord, m *model.PendingMutation) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if rec != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (kind, entity_id, data, sync_status, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (kind, entity_id) DO UPDATE SET
				data        = excluded.data,
				sync_status = excluded.sync_status,
				updated_at  = CURRENT_TIMESTAMP
		`, rec.Kind, rec.EntityID, string(rec.Data), rec.Status); err != nil {
			return fmt.Errorf("failed to write %s %s: %w", rec.Kind, rec.EntityID, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entities WHERE kind = ? AND entity_id = ?`,
			m.EntityKind, m.EntityID); err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", m.EntityKind, m.EntityID, err)
		}
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pending_mutations
			(idempotency_token, entity_kind, operation, entity_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.IdempotencyToken, m.EntityKind, m.Operation, m.EntityID, string(m.Payload), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	return tx.Commit()
}
