package ha

import (
	"context"
	"database/sql"
	_ "embed"
	"time"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteMembership is a MembershipStore backed by the same database file
// the event store uses — the spec's "shared backing store", a logically
// separate table rather than a separate connection. Callers open the
// *sql.DB themselves (see internal/store.OpenSQLite) and hand it in here.
type SQLiteMembership struct {
	db *sql.DB
}

// OpenSQLiteMembership applies the member table schema to db (idempotent)
// and returns a store using it.
func OpenSQLiteMembership(db *sql.DB) (*SQLiteMembership, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, err
	}
	return &SQLiteMembership{db: db}, nil
}

func (s *SQLiteMembership) Heartbeat(ctx context.Context, uri, uuid string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO member (uuid, server_uri, last_heartbeat_ts, is_leader)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(uuid) DO UPDATE SET server_uri = excluded.server_uri, last_heartbeat_ts = excluded.last_heartbeat_ts
	`, uuid, uri, now.UnixMilli())
	return err
}

// TryBecomeLeader runs the alive-leader check and the promotion inside a
// single transaction so a concurrent peer can't observe or win a
// half-applied state.
func (s *SQLiteMembership) TryBecomeLeader(ctx context.Context, uuid string, now time.Time, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	cutoff := now.UnixMilli() - ttl.Milliseconds()
	var aliveOtherLeader int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM member WHERE is_leader = 1 AND uuid != ? AND last_heartbeat_ts > ?
	`, uuid, cutoff).Scan(&aliveOtherLeader); err != nil {
		return false, err
	}
	if aliveOtherLeader > 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE member SET is_leader = 0 WHERE uuid != ?`, uuid); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE member SET is_leader = 1 WHERE uuid = ?`, uuid)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO member (uuid, server_uri, last_heartbeat_ts, is_leader) VALUES (?, '', ?, 1)
		`, uuid, now.UnixMilli()); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteMembership) ListMembers(ctx context.Context) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid, server_uri, last_heartbeat_ts, is_leader FROM member`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		var isLeader int
		if err := rows.Scan(&m.ServerUUID, &m.ServerURI, &m.LastHeartbeatTS, &isLeader); err != nil {
			return nil, err
		}
		m.IsLeader = isLeader != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteMembership) CurrentLeader(ctx context.Context) (Member, error) {
	var m Member
	var isLeader int
	err := s.db.QueryRowContext(ctx, `SELECT uuid, server_uri, last_heartbeat_ts, is_leader FROM member WHERE is_leader = 1 LIMIT 1`).
		Scan(&m.ServerUUID, &m.ServerURI, &m.LastHeartbeatTS, &isLeader)
	if err == sql.ErrNoRows {
		return Member{}, ErrNotFound
	}
	if err != nil {
		return Member{}, err
	}
	m.IsLeader = isLeader != 0
	return m, nil
}
