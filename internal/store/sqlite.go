package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arloq/notifyd/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is a durable EventStore/ClientRegistry backed by
// github.com/mattn/go-sqlite3. Grounded on roach88-nysm's internal/store
// package: WAL mode, a single-writer connection pool (SQLite only
// supports one writer at a time), an embedded schema applied idempotently
// on Open, and transaction-wrapped insert-or-select for idempotent writes.
//
// Unlike roach88-nysm's store, version allocation here is explicit
// (SELECT MAX(version)+1 inside the write transaction) rather than
// relying on SQLite's ROWID autoincrement, because the spec requires a
// dense, gap-free sequence — autoincrement only promises uniqueness and
// monotonicity, not density across rolled-back transactions.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite database at path and
// applies the schema. path may be ":memory:" for an ephemeral database
// used only for tests that want to exercise the SQL code path without a
// real file.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	// SQLite allows only one writer at a time; serializing all access
	// through a single connection turns "concurrent Append" races into
	// ordinary mutex contention on the driver's internal lock, which is
	// exactly the "single writer" guarantee Append must provide.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection so other packages sharing this
// database file (internal/ha's membership table) can apply their own
// schema against the same handle instead of opening a second connection
// pool onto a store that only tolerates one writer.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Append(ctx context.Context, e event.Event) (event.Event, error) {
	if err := e.Validate(); err != nil {
		return event.Event{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("store: append: begin tx: %w", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(version) FROM event").Scan(&maxVersion); err != nil {
		return event.Event{}, fmt.Errorf("store: append: read max version: %w", err)
	}
	e.Version = maxVersion.Int64 + 1
	e.CreateTime = nowMillis()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event (version, create_time, key, value, event_type, namespace, sender, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Version, e.CreateTime, e.Key, e.Value,
		nullableString(e.EventType), nullableString(e.Namespace), nullableString(e.Sender), nullableString(e.Context),
	)
	if err != nil {
		return event.Event{}, fmt.Errorf("store: append: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("store: append: commit: %w", err)
	}
	return e, nil
}

func (s *SQLite) List(ctx context.Context, f ListFilter) ([]event.Event, error) {
	var sb strings.Builder
	sb.WriteString("SELECT version, create_time, key, value, event_type, namespace, sender, context FROM event WHERE version > ?")
	args := []any{f.VersionLowExclusive}

	if !f.KeyAny && len(f.Keys) > 0 {
		sb.WriteString(" AND key IN (")
		sb.WriteString(strings.TrimSuffix(strings.Repeat("?,", len(f.Keys)), ","))
		sb.WriteString(")")
		for _, k := range f.Keys {
			args = append(args, k)
		}
	}
	// EventType's wildcard matches untyped events too, exactly like an
	// unset EventType (see event.Filter.Match).
	if f.EventType != nil && *f.EventType != event.Wildcard {
		sb.WriteString(" AND event_type = ?")
		args = append(args, *f.EventType)
	}
	if f.Namespace != nil && *f.Namespace != event.Wildcard {
		sb.WriteString(" AND namespace = ?")
		args = append(args, *f.Namespace)
	}
	if f.Sender != nil {
		if *f.Sender == event.Wildcard {
			sb.WriteString(" AND sender IS NOT NULL AND sender != ''")
		} else {
			sb.WriteString(" AND sender = ?")
			args = append(args, *f.Sender)
		}
	}
	sb.WriteString(" ORDER BY version ASC")
	if f.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", f.Limit))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLite) ListRange(ctx context.Context, lowInclusive, highInclusive int64) ([]event.Event, error) {
	query := "SELECT version, create_time, key, value, event_type, namespace, sender, context FROM event WHERE version >= ?"
	args := []any{lowInclusive}
	if highInclusive > 0 {
		query += " AND version <= ?"
		args = append(args, highInclusive)
	}
	query += " ORDER BY version ASC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list range: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLite) ListByTime(ctx context.Context, startInclusive, endInclusive int64) ([]event.Event, error) {
	query := "SELECT version, create_time, key, value, event_type, namespace, sender, context FROM event WHERE create_time >= ?"
	args := []any{startInclusive}
	if endInclusive > 0 {
		query += " AND create_time <= ?"
		args = append(args, endInclusive)
	}
	query += " ORDER BY version ASC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list by time: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLite) LatestVersion(ctx context.Context, key string, namespace *string) (int64, error) {
	query := "SELECT COALESCE(MAX(version), 0) FROM event WHERE key = ?"
	args := []any{key}
	if namespace != nil && *namespace != event.Wildcard {
		query += " AND namespace = ?"
		args = append(args, *namespace)
	}
	var v int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return 0, fmt.Errorf("store: latest version: %w", err)
	}
	return v, nil
}

func (s *SQLite) Count(ctx context.Context, f ListFilter) (int64, []CountBreakdown, error) {
	events, err := s.List(ctx, f)
	if err != nil {
		return 0, nil, err
	}
	bySender := make(map[string]int64)
	order := make([]string, 0)
	for _, e := range events {
		if _, ok := bySender[e.Sender]; !ok {
			order = append(order, e.Sender)
		}
		bySender[e.Sender]++
	}
	breakdown := make([]CountBreakdown, 0, len(order))
	for _, sdr := range order {
		breakdown = append(breakdown, CountBreakdown{Sender: sdr, EventCount: bySender[sdr]})
	}
	return int64(len(events)), breakdown, nil
}

func (s *SQLite) CleanUp(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: clean up: begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range []string{"DELETE FROM event", "DELETE FROM client", "DELETE FROM client_sequence"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: clean up: %s: %w", stmt, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) RegisterClient(ctx context.Context, namespace, sender string, clientID *int64) (event.Client, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Client{}, fmt.Errorf("store: register client: begin tx: %w", err)
	}
	defer tx.Rollback()

	if clientID != nil {
		var c event.Client
		row := tx.QueryRowContext(ctx, "SELECT id, namespace, sender, create_time, is_deleted FROM client WHERE id = ?", *clientID)
		var isDeleted int
		err := row.Scan(&c.ClientID, &c.Namespace, &c.Sender, &c.CreateTime, &isDeleted)
		if err == sql.ErrNoRows {
			c = event.Client{ClientID: *clientID, Namespace: namespace, Sender: sender, CreateTime: nowMillis()}
			if _, err := tx.ExecContext(ctx, `INSERT INTO client (id, namespace, sender, create_time, is_deleted) VALUES (?, ?, ?, ?, 0)`,
				c.ClientID, c.Namespace, c.Sender, c.CreateTime); err != nil {
				return event.Client{}, fmt.Errorf("store: register client: insert: %w", err)
			}
			return c, tx.Commit()
		}
		if err != nil {
			return event.Client{}, fmt.Errorf("store: register client: lookup: %w", err)
		}
		c.IsDeleted = isDeleted != 0
		if c.IsDeleted {
			if _, err := tx.ExecContext(ctx, `UPDATE client SET is_deleted = 0 WHERE id = ?`, c.ClientID); err != nil {
				return event.Client{}, fmt.Errorf("store: register client: reactivate: %w", err)
			}
			c.IsDeleted = false
		}
		return c, tx.Commit()
	}

	var maxID sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(id) FROM client").Scan(&maxID); err != nil {
		return event.Client{}, fmt.Errorf("store: register client: read max id: %w", err)
	}
	c := event.Client{ClientID: maxID.Int64 + 1, Namespace: namespace, Sender: sender, CreateTime: nowMillis()}
	if _, err := tx.ExecContext(ctx, `INSERT INTO client (id, namespace, sender, create_time, is_deleted) VALUES (?, ?, ?, ?, 0)`,
		c.ClientID, c.Namespace, c.Sender, c.CreateTime); err != nil {
		return event.Client{}, fmt.Errorf("store: register client: insert: %w", err)
	}
	return c, tx.Commit()
}

func (s *SQLite) IsClientExists(ctx context.Context, clientID int64) (bool, error) {
	var isDeleted int
	err := s.db.QueryRowContext(ctx, "SELECT is_deleted FROM client WHERE id = ?", clientID).Scan(&isDeleted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is client exists: %w", err)
	}
	return isDeleted == 0, nil
}

func (s *SQLite) DeleteClient(ctx context.Context, clientID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE client SET is_deleted = 1 WHERE id = ?", clientID)
	if err != nil {
		return fmt.Errorf("store: delete client: %w", err)
	}
	return nil
}

func (s *SQLite) GetClient(ctx context.Context, clientID int64) (event.Client, error) {
	var c event.Client
	var isDeleted int
	err := s.db.QueryRowContext(ctx, "SELECT id, namespace, sender, create_time, is_deleted FROM client WHERE id = ?", clientID).
		Scan(&c.ClientID, &c.Namespace, &c.Sender, &c.CreateTime, &isDeleted)
	if err == sql.ErrNoRows {
		return event.Client{}, ErrClientNotFound
	}
	if err != nil {
		return event.Client{}, fmt.Errorf("store: get client: %w", err)
	}
	c.IsDeleted = isDeleted != 0
	return c, nil
}

func (s *SQLite) LastSequenceNumber(ctx context.Context, clientID int64) (int64, int64, error) {
	var seq, ver int64
	err := s.db.QueryRowContext(ctx, "SELECT last_sequence_number, last_event_version FROM client_sequence WHERE client_id = ?", clientID).
		Scan(&seq, &ver)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("store: last sequence number: %w", err)
	}
	return seq, ver, nil
}

func (s *SQLite) AdvanceSequence(ctx context.Context, clientID, sequenceNumber, eventVersion int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_sequence (client_id, last_sequence_number, last_event_version)
		VALUES (?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET last_sequence_number = excluded.last_sequence_number,
			last_event_version = excluded.last_event_version`,
		clientID, sequenceNumber, eventVersion)
	if err != nil {
		return fmt.Errorf("store: advance sequence: %w", err)
	}
	return nil
}

func (s *SQLite) SeedSequence(ctx context.Context, clientID, sequenceNumber int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_sequence (client_id, last_sequence_number, last_event_version)
		VALUES (?, ?, 0)
		ON CONFLICT(client_id) DO UPDATE SET last_sequence_number = excluded.last_sequence_number`,
		clientID, sequenceNumber)
	if err != nil {
		return fmt.Errorf("store: seed sequence: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var out []event.Event
	for rows.Next() {
		var e event.Event
		var eventType, namespace, sender, context sql.NullString
		if err := rows.Scan(&e.Version, &e.CreateTime, &e.Key, &e.Value, &eventType, &namespace, &sender, &context); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.EventType = eventType.String
		e.Namespace = namespace.String
		e.Sender = sender.String
		e.Context = context.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
