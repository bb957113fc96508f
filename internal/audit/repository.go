package audit

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"alarm-sync/internal/sqldb"
)

const (
	// Table is the sync log table.
	Table = "alarm_sync_log"

	defaultListLimit = 100
)

// Filter narrows List. Zero values disable a condition.
type Filter struct {
	BatchID         string
	AlarmInstanceID int64
	Operation       string
	Since           *time.Time
	Limit           int
}

// Repository writes and queries the sync log.
type Repository struct {
	db      *sql.DB
	dialect sqldb.Dialect
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB, dialect sqldb.Dialect) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db, dialect: dialect}
}

// Append writes an audit entry.
func (r *Repository) Append(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry.normalize()

	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`
INSERT INTO `+Table+` (
	id, batch_id, alarm_instance_id, event_id, operation, old_status, new_status,
	request_method, request_url, request_payload, response_code, response_body,
	error_message, duration_ms, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`), entry.ID, entry.BatchID, nullInt(entry.AlarmInstanceID), nullInt(entry.EventID), entry.Operation,
		sqldb.NullString(entry.OldStatus), sqldb.NullString(entry.NewStatus),
		sqldb.NullString(entry.RequestMethod), sqldb.NullString(entry.RequestURL), sqldb.NullString(entry.RequestPayload),
		nullInt(int64(entry.ResponseCode)), sqldb.NullString(entry.ResponseBody),
		sqldb.NullString(entry.ErrorMessage), entry.DurationMS, entry.CreatedAt)
	return err
}

// List returns the newest entries matching f.
func (r *Repository) List(ctx context.Context, f Filter) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}
	if f.BatchID != "" {
		add("batch_id =", f.BatchID)
	}
	if f.AlarmInstanceID > 0 {
		add("alarm_instance_id =", f.AlarmInstanceID)
	}
	if f.Operation != "" {
		add("operation =", f.Operation)
	}
	if f.Since != nil {
		add("created_at >=", f.Since.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
SELECT id, batch_id, alarm_instance_id, event_id, operation, old_status, new_status,
	request_method, request_url, request_payload, response_code, response_body,
	error_message, duration_ms, created_at
FROM ` + Table
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += "\nORDER BY created_at DESC, id DESC\n" + r.dialect.Limit(limit)

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                                 Entry
			instanceID, eventID, code         sql.NullInt64
			oldStatus, newStatus, method, url sql.NullString
			payload, body, message            sql.NullString
			createdAt                         sqldb.NullTime
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &instanceID, &eventID, &e.Operation, &oldStatus, &newStatus,
			&method, &url, &payload, &code, &body, &message, &e.DurationMS, &createdAt); err != nil {
			return nil, err
		}
		e.AlarmInstanceID = instanceID.Int64
		e.EventID = eventID.Int64
		e.ResponseCode = int(code.Int64)
		e.OldStatus = oldStatus.String
		e.NewStatus = newStatus.String
		e.RequestMethod = method.String
		e.RequestURL = url.String
		e.RequestPayload = payload.String
		e.ResponseBody = body.String
		e.ErrorMessage = message.String
		e.CreatedAt = createdAt.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sweep deletes entries older than olderThan.
func (r *Repository) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("audit repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM `+Table+` WHERE created_at < $1`), olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of log entries.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("audit repo: nil db")
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+Table).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
