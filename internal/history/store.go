// Package history persists query statistics and serves the activation
// history usage scores are computed from.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/mattjoyce/quern/internal/query"
	"github.com/mattjoyce/quern/internal/score"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SaveSession stores stats in order, in one transaction.
func (s *Store) SaveSession(ctx context.Context, stats []query.Stats) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	handlerIDs := make(map[string]int64)
	for _, st := range stats {
		start := st.Start
		if start.IsZero() {
			start = s.now()
		}
		var runtime time.Duration
		if !st.End.IsZero() && st.End.After(start) {
			runtime = st.End.Sub(start)
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO query(execution_id, input, cancelled, runtime_us, timestamp)
VALUES(?, ?, ?, ?, ?);
`, st.ID, st.Input, st.Cancelled, runtime.Microseconds(), start.Unix())
		if err != nil {
			return fmt.Errorf("insert query: %w", err)
		}
		queryID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("query id: %w", err)
		}

		handlers := make([]string, 0, len(st.Runtimes))
		for h := range st.Runtimes {
			handlers = append(handlers, h)
		}
		slices.Sort(handlers)

		for _, h := range handlers {
			handlerID, ok := handlerIDs[h]
			if !ok {
				handlerID, err = ensureHandler(ctx, tx, h)
				if err != nil {
					return err
				}
				handlerIDs[h] = handlerID
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO execution(query_id, handler_id, runtime_us) VALUES(?, ?, ?);",
				queryID, handlerID, st.Runtimes[h].Microseconds(),
			); err != nil {
				return fmt.Errorf("insert execution: %w", err)
			}
		}

		if st.ActivatedItem != "" {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO activation(query_id, item_id) VALUES(?, ?);",
				queryID, st.ActivatedItem,
			); err != nil {
				return fmt.Errorf("insert activation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func ensureHandler(ctx context.Context, tx *sql.Tx, stringID string) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO query_handler(string_id) VALUES(?) ON CONFLICT(string_id) DO NOTHING;", stringID,
	); err != nil {
		return 0, fmt.Errorf("insert query handler: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM query_handler WHERE string_id = ?;", stringID).Scan(&id); err != nil {
		return 0, fmt.Errorf("read query handler id: %w", err)
	}
	return id, nil
}

// LoadActivations returns every activation with the time of its query.
// Activations without an item id are skipped.
func (s *Store) LoadActivations(ctx context.Context) ([]score.Activation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT a.item_id, q.timestamp
FROM activation a
JOIN query q ON q.id = a.query_id
WHERE a.item_id <> '';
`)
	if err != nil {
		return nil, fmt.Errorf("load activations: %w", err)
	}
	defer rows.Close()

	var out []score.Activation
	for rows.Next() {
		var (
			itemID string
			ts     int64
		)
		if err := rows.Scan(&itemID, &ts); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		out = append(out, score.Activation{ItemID: itemID, At: time.Unix(ts, 0)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activations: %w", err)
	}
	return out, nil
}

// Prune deletes queries started before cutoff, with their executions and
// activations. It returns the number of queries deleted.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM query WHERE timestamp < ?;", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune queries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune queries: %w", err)
	}
	return n, nil
}

// ActivationsPerDay counts activations for each of the last days days,
// oldest first, including today. Days without activations count zero.
func (s *Store) ActivationsPerDay(ctx context.Context, days int) ([]DayCount, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive")
	}
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	first := today.AddDate(0, 0, -(days - 1))

	rows, err := s.db.QueryContext(ctx, `
SELECT q.timestamp
FROM activation a
JOIN query q ON q.id = a.query_id
WHERE q.timestamp >= ?;
`, first.Unix())
	if err != nil {
		return nil, fmt.Errorf("load activation days: %w", err)
	}
	defer rows.Close()

	out := make([]DayCount, days)
	for i := range out {
		out[i].Day = first.AddDate(0, 0, i)
	}
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan activation day: %w", err)
		}
		t := time.Unix(ts, 0).In(now.Location())
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())
		idx := int(day.Sub(first).Hours()/24 + 0.5)
		if idx >= 0 && idx < days {
			out[idx].Count++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activation days: %w", err)
	}
	return out, nil
}

// Recent returns the latest queries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT q.id, q.execution_id, q.input, q.cancelled, q.runtime_us, q.timestamp, a.item_id
FROM query q
LEFT JOIN activation a ON a.query_id = q.id
ORDER BY q.id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent queries: %w", err)
	}
	defer rows.Close()

	var out []QueryRecord
	for rows.Next() {
		var (
			r         QueryRecord
			execID    sql.NullString
			runtimeUS int64
			ts        int64
			activated sql.NullString
		)
		if err := rows.Scan(&r.ID, &execID, &r.Input, &r.Cancelled, &runtimeUS, &ts, &activated); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		r.ExecutionID = execID.String
		r.Runtime = time.Duration(runtimeUS) * time.Microsecond
		r.Timestamp = time.Unix(ts, 0)
		r.ActivatedItem = activated.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queries: %w", err)
	}
	return out, nil
}

// HandlerRuntimes averages the recorded runtime of every handler.
func (s *Store) HandlerRuntimes(ctx context.Context) ([]HandlerRuntime, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT h.string_id, COUNT(*), AVG(e.runtime_us)
FROM execution e
JOIN query_handler h ON h.id = e.handler_id
GROUP BY h.string_id
ORDER BY h.string_id;
`)
	if err != nil {
		return nil, fmt.Errorf("load handler runtimes: %w", err)
	}
	defer rows.Close()

	var out []HandlerRuntime
	for rows.Next() {
		var (
			r   HandlerRuntime
			avg float64
		)
		if err := rows.Scan(&r.Handler, &r.Executions, &avg); err != nil {
			return nil, fmt.Errorf("scan handler runtime: %w", err)
		}
		r.Average = time.Duration(avg) * time.Microsecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handler runtimes: %w", err)
	}
	return out, nil
}
