// Package sqlstore persists sync records in the alarm_sync_status table.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/faults"
	"alarm-sync/internal/sqldb"
	syncstate "alarm-sync/internal/syncstate/domain"
)

const (
	defaultTable     = "alarm_sync_status"
	defaultChunkSize = 500
)

const recordColumns = `alarm_instance_id, event_id, sync_status, source_state, last_push_at,
	push_count, error_count, last_error, error_kind, failed_digest, silence_id, fingerprint,
	created_at, updated_at`

// ListOptions narrows ListByStatus. Zero values disable a condition.
type ListOptions struct {
	Limit          int
	AfterID        int64
	UpdatedAfter   *time.Time
	LastPushBefore *time.Time
}

// StatusStats aggregates records sharing one status.
type StatusStats struct {
	Status           syncstate.Status `json:"sync_status"`
	Count            int64            `json:"alarm_count"`
	EarliestCreated  *time.Time       `json:"earliest_alarm,omitempty"`
	LatestUpdate     *time.Time       `json:"latest_update,omitempty"`
	TotalPushes      int64            `json:"total_pushes"`
	TotalErrors      int64            `json:"total_errors"`
	AlarmsWithErrors int64            `json:"alarms_with_errors"`
}

// Store is the sync record repository.
type Store struct {
	db      *sql.DB
	dialect sqldb.Dialect
	table   string
}

// New constructs a Store.
func New(db *sql.DB, dialect sqldb.Dialect) (*Store, error) {
	if db == nil {
		return nil, errors.New("sync store: nil db")
	}
	return &Store{db: db, dialect: dialect, table: defaultTable}, nil
}

// Ping checks the bookkeeping table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table+" WHERE 1 = 0").Scan(&n)
	return wrap("ping store", err)
}

// Get loads one record, or nil when absent.
func (s *Store) Get(ctx context.Context, instanceID int64) (*syncstate.Record, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
SELECT `+recordColumns+`
FROM `+s.table+`
WHERE alarm_instance_id = $1`), instanceID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get sync record", err)
	}
	return rec, nil
}

// GetMany loads the records that exist for ids.
func (s *Store) GetMany(ctx context.Context, ids []int64) (map[int64]*syncstate.Record, error) {
	out := make(map[int64]*syncstate.Record, len(ids))
	for start := 0; start < len(ids); start += defaultChunkSize {
		end := start + defaultChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		recs, err := s.list(ctx, "get sync records", s.dialect.Rebind(`
SELECT `+recordColumns+`
FROM `+s.table+`
WHERE alarm_instance_id IN (`+s.dialect.Placeholders(1, len(chunk))+`)`), args...)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			out[r.AlarmInstanceID] = r
		}
	}
	return out, nil
}

// Insert creates a record. A concurrent insert of the same id yields syncstate.ErrConflict.
func (s *Store) Insert(ctx context.Context, rec *syncstate.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	stamp(rec)
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
INSERT INTO `+s.table+` (`+recordColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`),
		rec.AlarmInstanceID, rec.EventID, string(rec.Status), sqldb.NullString(string(rec.SourceState)),
		sqldb.NullTimeArg(rec.LastPushAt), rec.PushCount, rec.ErrorCount,
		sqldb.NullString(rec.LastError), sqldb.NullString(rec.ErrorKind), sqldb.NullString(rec.FailedDigest),
		sqldb.NullString(rec.SilenceID), sqldb.NullString(rec.Fingerprint),
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return syncstate.ErrConflict
		}
		return wrap("insert sync record", err)
	}
	return nil
}

// Update overwrites a record. Missing rows yield syncstate.ErrNotFound.
func (s *Store) Update(ctx context.Context, rec *syncstate.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	stamp(rec)
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
UPDATE `+s.table+` SET
	event_id = $1, sync_status = $2, source_state = $3, last_push_at = $4,
	push_count = $5, error_count = $6, last_error = $7, error_kind = $8,
	failed_digest = $9, silence_id = $10, fingerprint = $11, updated_at = $12
WHERE alarm_instance_id = $13`),
		rec.EventID, string(rec.Status), sqldb.NullString(string(rec.SourceState)), sqldb.NullTimeArg(rec.LastPushAt),
		rec.PushCount, rec.ErrorCount, sqldb.NullString(rec.LastError), sqldb.NullString(rec.ErrorKind),
		sqldb.NullString(rec.FailedDigest), sqldb.NullString(rec.SilenceID), sqldb.NullString(rec.Fingerprint),
		rec.UpdatedAt, rec.AlarmInstanceID)
	if err != nil {
		return wrap("update sync record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update sync record", err)
	}
	if n == 0 {
		return syncstate.ErrNotFound
	}
	return nil
}

// Upsert updates the record, inserting it when absent. An insert that loses
// a race falls back to the update path.
func (s *Store) Upsert(ctx context.Context, rec *syncstate.Record) error {
	err := s.Update(ctx, rec)
	if !errors.Is(err, syncstate.ErrNotFound) {
		return err
	}
	err = s.Insert(ctx, rec)
	if errors.Is(err, syncstate.ErrConflict) {
		return s.Update(ctx, rec)
	}
	return err
}

// ListByStatus returns records with status ordered by alarm instance id.
func (s *Store) ListByStatus(ctx context.Context, status syncstate.Status, opts ListOptions) ([]*syncstate.Record, error) {
	var (
		conds = []string{"sync_status = $1"}
		args  = []any{string(status)}
	)
	next := func() string {
		return "$" + strconv.Itoa(len(args))
	}
	if opts.AfterID > 0 {
		args = append(args, opts.AfterID)
		conds = append(conds, "alarm_instance_id > "+next())
	}
	if opts.UpdatedAfter != nil {
		args = append(args, opts.UpdatedAfter.UTC())
		conds = append(conds, "updated_at > "+next())
	}
	if opts.LastPushBefore != nil {
		args = append(args, opts.LastPushBefore.UTC())
		conds = append(conds, "(last_push_at IS NULL OR last_push_at < "+next()+")")
	}
	query := `
SELECT ` + recordColumns + `
FROM ` + s.table + `
WHERE ` + strings.Join(conds, " AND ") + `
ORDER BY alarm_instance_id ASC`
	if opts.Limit > 0 {
		query += "\n" + s.dialect.Limit(opts.Limit)
	}
	return s.list(ctx, "list sync records", s.dialect.Rebind(query), args...)
}

// Statistics aggregates records per status.
func (s *Store) Statistics(ctx context.Context) ([]StatusStats, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT sync_status, COUNT(*), MIN(created_at), MAX(updated_at),
	COALESCE(SUM(push_count), 0), COALESCE(SUM(error_count), 0),
	COALESCE(SUM(CASE WHEN error_count > 0 THEN 1 ELSE 0 END), 0)
FROM `+s.table+`
GROUP BY sync_status
ORDER BY sync_status`)
	if err != nil {
		return nil, wrap("sync statistics", err)
	}
	defer rows.Close()

	var out []StatusStats
	for rows.Next() {
		var (
			st               StatusStats
			status           string
			earliest, latest sqldb.NullTime
		)
		if err := rows.Scan(&status, &st.Count, &earliest, &latest, &st.TotalPushes, &st.TotalErrors, &st.AlarmsWithErrors); err != nil {
			return nil, wrap("sync statistics", err)
		}
		st.Status = syncstate.Status(status)
		st.EarliestCreated = earliest.Ptr()
		st.LatestUpdate = latest.Ptr()
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("sync statistics", err)
	}
	return out, nil
}

// CountByStatus returns the number of records with status.
func (s *Store) CountByStatus(ctx context.Context, status syncstate.Status) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(*) FROM `+s.table+` WHERE sync_status = $1`), string(status)).Scan(&n)
	if err != nil {
		return 0, wrap("count records", err)
	}
	return n, nil
}

// SweepResolved deletes resolved records last updated before olderThan.
func (s *Store) SweepResolved(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
DELETE FROM `+s.table+`
WHERE sync_status = $1 AND updated_at < $2`), string(syncstate.StatusResolved), olderThan.UTC())
	if err != nil {
		return 0, wrap("sweep resolved", err)
	}
	return res.RowsAffected()
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]*syncstate.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []*syncstate.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*syncstate.Record, error) {
	var (
		rec                            syncstate.Record
		status                         string
		state, lastError, kind, digest sql.NullString
		silenceID, fingerprint         sql.NullString
		lastPush, createdAt, updatedAt sqldb.NullTime
	)
	if err := row.Scan(
		&rec.AlarmInstanceID,
		&rec.EventID,
		&status,
		&state,
		&lastPush,
		&rec.PushCount,
		&rec.ErrorCount,
		&lastError,
		&kind,
		&digest,
		&silenceID,
		&fingerprint,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = syncstate.Status(status)
	rec.SourceState = alarms.SourceState(state.String)
	rec.LastPushAt = lastPush.Ptr()
	rec.LastError = lastError.String
	rec.ErrorKind = kind.String
	rec.FailedDigest = digest.String
	rec.SilenceID = silenceID.String
	rec.Fingerprint = fingerprint.String
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time
	return &rec, nil
}

func stamp(rec *syncstate.Record) {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
}

// wrap marks store failures transient.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return faults.Transient(op, err)
}
