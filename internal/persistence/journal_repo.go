package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skobkin/reefdash/internal/connectors"
)

// JournalRepo stores dashboard activity: event records, data samples and
// connection status transitions.
type JournalRepo struct {
	db *sql.DB
}

func NewJournalRepo(db *sql.DB) *JournalRepo {
	return &JournalRepo{db: db}
}

func (r *JournalRepo) InsertEvent(ctx context.Context, rec connectors.EventRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events(kind, message, received_at)
		VALUES(?, ?, ?)
	`, string(rec.Kind), rec.Message, toUnixMillis(rec.ReceivedAt))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *JournalRepo) InsertDataSample(ctx context.Context, dp connectors.DataPoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO data_samples(payload, received_at)
		VALUES(?, ?)
	`, dp.Payload, toUnixMillis(dp.ReceivedAt))
	if err != nil {
		return fmt.Errorf("insert data sample: %w", err)
	}
	return nil
}

func (r *JournalRepo) InsertConnectionStatus(ctx context.Context, st connectors.ConnectionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connection_log(state, transport, target, error, at)
		VALUES(?, ?, ?, ?, ?)
	`, string(st.State), st.TransportName, st.Target, nullableString(st.Err), toUnixMillis(st.Timestamp))
	if err != nil {
		return fmt.Errorf("insert connection status: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (r *JournalRepo) RecentEvents(ctx context.Context, limit int) ([]connectors.EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, message, received_at
		FROM events
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]connectors.EventRecord, 0)
	for rows.Next() {
		var (
			rec        connectors.EventRecord
			kind       string
			receivedMs int64
		)
		if err := rows.Scan(&kind, &rec.Message, &receivedMs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Kind = connectors.EventKind(kind)
		rec.ReceivedAt = fromUnixMillis(receivedMs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// RecentDataSamples returns up to limit data samples, newest first.
func (r *JournalRepo) RecentDataSamples(ctx context.Context, limit int) ([]connectors.DataPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload, received_at
		FROM data_samples
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list data samples: %w", err)
	}
	defer rows.Close()

	out := make([]connectors.DataPoint, 0)
	for rows.Next() {
		var (
			dp         connectors.DataPoint
			receivedMs int64
		)
		if err := rows.Scan(&dp.Payload, &receivedMs); err != nil {
			return nil, fmt.Errorf("scan data sample: %w", err)
		}
		dp.ReceivedAt = fromUnixMillis(receivedMs)
		out = append(out, dp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data samples: %w", err)
	}
	return out, nil
}

// ConnectionHistory returns up to limit status transitions, newest first.
func (r *JournalRepo) ConnectionHistory(ctx context.Context, limit int) ([]connectors.ConnectionStatus, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT state, transport, target, error, at
		FROM connection_log
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list connection log: %w", err)
	}
	defer rows.Close()

	out := make([]connectors.ConnectionStatus, 0)
	for rows.Next() {
		var (
			st     connectors.ConnectionStatus
			state  string
			errMsg sql.NullString
			atMs   int64
		)
		if err := rows.Scan(&state, &st.TransportName, &st.Target, &errMsg, &atMs); err != nil {
			return nil, fmt.Errorf("scan connection log: %w", err)
		}
		st.State = connectors.ConnectionState(state)
		if errMsg.Valid {
			st.Err = errMsg.String
		}
		st.Timestamp = fromUnixMillis(atMs)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection log: %w", err)
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

// Timestamps are stored as unix milliseconds. Zero maps to the zero time.
func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
