// Package sqlsource reads alarm instances from the relational source of truth.
package sqlsource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/faults"
	"alarm-sync/internal/logger"
	"alarm-sync/internal/sqldb"
)

const (
	defaultQueryTimeout = 30 * time.Second
	defaultChunkSize    = 500
)

// ActiveQuery selects one page of unconfirmed alarms.
type ActiveQuery struct {
	Filter  alarms.Filter
	Since   time.Time
	AfterID int64
	Limit   int
}

// Page is one keyset page of active alarms. NextAfter resumes the scan;
// Exhausted is set once the source has no more rows past the page.
type Page struct {
	Alarms    []alarms.Alarm
	NextAfter int64
	Exhausted bool
}

// Source is a read-only alarm repository over database/sql.
type Source struct {
	db           *sql.DB
	q            queries
	queryTimeout time.Duration
	chunkSize    int
	logger       *zap.Logger
}

// Option customizes a Source.
type Option func(*Source)

// WithQueryTimeout bounds every query.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// WithChunkSize bounds the number of ids per IN list.
func WithChunkSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Source) {
		s.logger = logger.OrNop(l)
	}
}

// New constructs a Source. Queries are rendered once here.
func New(db *sql.DB, dialect sqldb.Dialect, mapping Mapping, opts ...Option) (*Source, error) {
	if db == nil {
		return nil, errors.New("alarm source: nil db")
	}
	q, err := newQueries(dialect, mapping)
	if err != nil {
		return nil, err
	}
	s := &Source{
		db:           db,
		q:            q,
		queryTimeout: defaultQueryTimeout,
		chunkSize:    defaultChunkSize,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ping checks that the source tables are reachable.
func (s *Source) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var n int
	if err := s.db.QueryRowContext(ctx, s.q.ping).Scan(&n); err != nil {
		return classify("ping source", err)
	}
	return nil
}

// FetchActiveAlarms returns the next page of unconfirmed alarms whose latest
// event (or the instance itself when it has none) was created after q.Since,
// with id > q.AfterID. Filtering happens after paging, so a page may
// carry fewer alarms than Limit while not being exhausted.
func (s *Source) FetchActiveAlarms(ctx context.Context, q ActiveQuery) (Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, "fetch active alarms", s.q.active(limit), q.Since.UTC(), q.AfterID)
	if err != nil {
		return Page{}, err
	}

	page := Page{NextAfter: q.AfterID}
	for _, a := range rows {
		page.NextAfter = a.Instance.ID
		if q.Filter.Match(a) {
			page.Alarms = append(page.Alarms, a)
		}
	}
	page.Exhausted = len(rows) < limit
	return page, nil
}

// FetchChangedAlarms returns tracked alarms whose source state differs from
// the last state confirmed downstream.
func (s *Source) FetchChangedAlarms(ctx context.Context, tracked []alarms.Tracked) ([]alarms.Change, error) {
	if len(tracked) == 0 {
		return nil, nil
	}
	known := make(map[int64]alarms.SourceState, len(tracked))
	ids := make([]int64, 0, len(tracked))
	for _, t := range tracked {
		if _, dup := known[t.InstanceID]; dup {
			continue
		}
		known[t.InstanceID] = t.KnownState
		ids = append(ids, t.InstanceID)
	}

	current, err := s.fetchByIDs(ctx, "fetch changed alarms", ids)
	if err != nil {
		return nil, err
	}
	var changes []alarms.Change
	for _, a := range current {
		prev := known[a.Instance.ID]
		if prev == "" {
			prev = alarms.StateUnconfirmed
		}
		if a.Instance.State == prev {
			continue
		}
		changes = append(changes, alarms.Change{Alarm: a, Previous: prev})
	}
	return changes, nil
}

// FetchStaleFiring returns the firing alarms last pushed before now-interval
// that are still unconfirmed upstream.
func (s *Source) FetchStaleFiring(ctx context.Context, firing []alarms.Tracked, interval time.Duration, now time.Time) ([]alarms.Alarm, error) {
	cutoff := now.Add(-interval)
	ids := make([]int64, 0, len(firing))
	for _, t := range firing {
		if t.LastPushAt != nil && !t.LastPushAt.Before(cutoff) {
			continue
		}
		ids = append(ids, t.InstanceID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	current, err := s.fetchByIDs(ctx, "fetch stale firing", ids)
	if err != nil {
		return nil, err
	}
	out := current[:0]
	for _, a := range current {
		if a.Instance.State.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

// FetchByID loads a single alarm, or nil when absent.
func (s *Source) FetchByID(ctx context.Context, id int64) (*alarms.Alarm, error) {
	found, err := s.fetchByIDs(ctx, "fetch alarm", []int64{id})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (s *Source) fetchByIDs(ctx context.Context, op string, ids []int64) ([]alarms.Alarm, error) {
	var out []alarms.Alarm
	for start := 0; start < len(ids); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		found, err := s.query(ctx, op, s.q.byIDs(len(chunk)), args...)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *Source) query(ctx context.Context, op, query string, args ...any) ([]alarms.Alarm, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []alarms.Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			if errors.Is(err, alarms.ErrUnknownState) {
				s.logger.Warn("skipping alarm with unknown state", zap.String("op", op), zap.Error(err))
				continue
			}
			return nil, classify(op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row scanner) (alarms.Alarm, error) {
	var (
		a                                        alarms.Alarm
		code, appEnv, resID, resType, state      sql.NullString
		level, total, clearReason                sql.NullString
		created                                  sql.NullTime
		resetAt, clearedAt, confirmedAt          sql.NullTime
		eventID                                  sql.NullInt64
		eventTime, eventCreated                  sql.NullTime
		detail, resetFlag, taskType, taskID      sql.NullString
		data                                     [10]sql.NullString
		name, typeName, defLevel, fault, suggest sql.NullString
		deviceID, host, ip, model                sql.NullString
		app, domain, env                         sql.NullString
	)
	dest := []any{
		&a.Instance.ID, &code, &appEnv, &resID, &resType,
		&state, &level, &total, &created,
		&resetAt, &clearedAt, &confirmedAt, &clearReason,
		&eventID, &eventTime, &eventCreated, &detail, &resetFlag,
		&taskType, &taskID,
	}
	for i := range data {
		dest = append(dest, &data[i])
	}
	dest = append(dest,
		&name, &typeName, &defLevel, &fault, &suggest,
		&deviceID, &host, &ip, &model,
		&app, &domain, &env,
	)
	if err := row.Scan(dest...); err != nil {
		return alarms.Alarm{}, err
	}

	st, err := alarms.ParseSourceState(state.String)
	if err != nil {
		return alarms.Alarm{}, fmt.Errorf("alarm instance %d state %q: %w", a.Instance.ID, state.String, err)
	}

	a.Instance.AlarmCode = trim(code)
	a.Instance.AppEnvID = trim(appEnv)
	a.Instance.ResourceInstanceID = trim(resID)
	a.Instance.ResourceType = trim(resType)
	a.Instance.State = st
	a.Instance.Level = parseLevel(level)
	a.Instance.TotalCount, _ = strconv.Atoi(trim(total))
	if created.Valid {
		a.Instance.CreatedAt = created.Time.UTC()
	}
	a.Instance.ResetAt = timePtr(resetAt)
	a.Instance.ClearedAt = timePtr(clearedAt)
	a.Instance.ConfirmedAt = timePtr(confirmedAt)
	a.Instance.ClearReason = trim(clearReason)

	if eventID.Valid {
		a.Detail.EventID = eventID.Int64
	}
	a.Detail.EventTime = timePtr(eventTime)
	a.Detail.CreatedAt = timePtr(eventCreated)
	a.Detail.Description = trim(detail)
	a.Detail.Recovery = trim(resetFlag) == "0"
	a.Detail.TaskType = trim(taskType)
	a.Detail.TaskID = trim(taskID)
	for i := range data {
		a.Detail.Data[i] = trim(data[i])
	}

	a.Meta = alarms.Metadata{
		AlarmName:     trim(name),
		AlarmTypeName: trim(typeName),
		DefaultLevel:  parseLevel(defLevel),
		FaultReason:   trim(fault),
		DealSuggest:   trim(suggest),
		DeviceID:      trim(deviceID),
		HostName:      trim(host),
		HostIP:        trim(ip),
		DeviceModel:   trim(model),
		AppName:       trim(app),
		DomainName:    trim(domain),
		Environment:   trim(env),
	}
	return a, nil
}

func trim(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return strings.TrimSpace(v.String)
}

func parseLevel(v sql.NullString) *int {
	s := trim(v)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// classify tags connectivity failures as transient and everything else
// (syntax, unknown column, bad mapping) as fatal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return faults.Transient(op, err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return faults.Transient(op, err)
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return faults.Transient(op, err)
	case errors.As(err, &netErr):
		return faults.Transient(op, err)
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection refused", "connection reset", "broken pipe", "bad connection", "database is locked", "i/o timeout"} {
		if strings.Contains(msg, hint) {
			return faults.Transient(op, err)
		}
	}
	return faults.Fatal(op, err)
}
