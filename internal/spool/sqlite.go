package spool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"tweetproof/internal/db"
	"tweetproof/internal/domain"
	"tweetproof/internal/events"
	"tweetproof/internal/migrate"
)

// SQLiteSpool keeps records in a table and marks them drained instead of
// deleting them. Every change is mirrored to the spool_events audit table.
type SQLiteSpool struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

// OpenSQLite opens and migrates dir/spool.db.
func OpenSQLite(dir string) (*SQLiteSpool, error) {
	conn, err := db.Open(db.Config{Dir: dir})
	if err != nil {
		return nil, fmt.Errorf("open spool db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate spool db: %w", err)
	}
	return &SQLiteSpool{DB: conn}, nil
}

func (s *SQLiteSpool) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLiteSpool) events() events.Writer {
	if s.Events.Now == nil {
		return events.Writer{Now: s.now}
	}
	return s.Events
}

func (s *SQLiteSpool) Put(ctx context.Context, fileID string, payload []byte) (domain.SpoolRecord, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return domain.SpoolRecord{}, err
	}
	if fileID == "" {
		fileID = fileIDOf(payload)
	}
	rec := domain.SpoolRecord{
		ID:        id.String(),
		FileID:    fileID,
		CreatedAt: s.now().UTC().Format(TimeLayout),
		Payload:   slices.Clone(payload),
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SpoolRecord{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO spool_records(id,file_id,created_at,payload) VALUES (?,?,?,?)`,
		rec.ID, nullable(rec.FileID), rec.CreatedAt, []byte(rec.Payload)); err != nil {
		return domain.SpoolRecord{}, err
	}
	if err := s.events().Append(ctx, tx, events.TypeSpooled, rec.ID, rec.FileID, events.EventPayload{"bytes": len(payload)}); err != nil {
		return domain.SpoolRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SpoolRecord{}, err
	}
	return rec, nil
}

func (s *SQLiteSpool) List(ctx context.Context, opts ListOptions) ([]domain.SpoolRecord, error) {
	query := `SELECT id,COALESCE(file_id,''),created_at,drained_at,replaying_at,payload FROM spool_records`
	if !opts.IncludeDrained {
		query += ` WHERE drained_at IS NULL`
	}
	query += ` ORDER BY created_at, id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.SpoolRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (s *SQLiteSpool) Get(ctx context.Context, id string) (domain.SpoolRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id,COALESCE(file_id,''),created_at,drained_at,replaying_at,payload FROM spool_records WHERE id=?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SpoolRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteSpool) Drain(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var fileID string
	var drainedAt sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(file_id,''),drained_at FROM spool_records WHERE id=?`, id).Scan(&fileID, &drainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if drainedAt.Valid {
		return nil
	}
	ts := s.now().UTC().Format(TimeLayout)
	if _, err := tx.ExecContext(ctx, `UPDATE spool_records SET drained_at=?, replaying_at=NULL WHERE id=?`, ts, id); err != nil {
		return err
	}
	if err := s.events().Append(ctx, tx, events.TypeDrained, id, fileID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Claim marks a pending record as replaying. The conditional update lets
// exactly one caller through.
func (s *SQLiteSpool) Claim(ctx context.Context, id string) (domain.SpoolRecord, error) {
	ts := s.now().UTC().Format(TimeLayout)
	res, err := s.DB.ExecContext(ctx, `UPDATE spool_records SET replaying_at=? WHERE id=? AND drained_at IS NULL AND replaying_at IS NULL`, ts, id)
	if err != nil {
		return domain.SpoolRecord{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.SpoolRecord{}, err
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return domain.SpoolRecord{}, err
	}
	if n == 1 {
		return rec, nil
	}
	if rec.DrainedAt != nil {
		return domain.SpoolRecord{}, ErrDrained
	}
	return domain.SpoolRecord{}, ErrClaimed
}

// Release clears the replay mark of a pending record.
func (s *SQLiteSpool) Release(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE spool_records SET replaying_at=NULL WHERE id=? AND drained_at IS NULL`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure notes a failed replay in the audit trail.
func (s *SQLiteSpool) RecordFailure(ctx context.Context, id string, cause error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.events().Append(ctx, tx, events.TypeReplayFailed, id, "", events.EventPayload{"error": cause.Error()}); err != nil {
		return err
	}
	return tx.Commit()
}

// History returns the audit trail of one record.
func (s *SQLiteSpool) History(ctx context.Context, id string) ([]events.Event, error) {
	return events.List(ctx, s.DB, id)
}

func (s *SQLiteSpool) Close() error { return s.DB.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.SpoolRecord, error) {
	var rec domain.SpoolRecord
	var drainedAt, replayingAt sql.NullString
	var payload []byte
	if err := row.Scan(&rec.ID, &rec.FileID, &rec.CreatedAt, &drainedAt, &replayingAt, &payload); err != nil {
		return rec, err
	}
	rec.DrainedAt = optional(drainedAt)
	rec.ReplayingAt = optional(replayingAt)
	rec.Payload = payload
	return rec, nil
}

func optional(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
