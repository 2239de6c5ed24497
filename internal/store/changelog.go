package store

import (
	"context"
	"database/sql"
	"time"
)

// appendChange records a change inside the caller's transaction so the log
// and the definitions table never disagree.
func appendChange(ctx context.Context, tx *sql.Tx, workflow string, typ ChangeType, version int, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_changes (workflow, change_type, version, timestamp) VALUES (?, ?, ?, ?)`,
		workflow, string(typ), version, at,
	)
	return wrapStore("append change", err)
}

// Changes returns log entries with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) Changes(ctx context.Context, since int64) ([]*Change, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, workflow, change_type, version, timestamp
		 FROM workflow_changes WHERE sequence > ? ORDER BY sequence ASC`, since)
	if err != nil {
		return nil, wrapStore("query changes", err)
	}
	defer rows.Close()

	var out []*Change
	for rows.Next() {
		c := &Change{}
		var typ string
		if err := rows.Scan(&c.Sequence, &c.Workflow, &typ, &c.Version, &c.Timestamp); err != nil {
			return nil, wrapStore("scan change", err)
		}
		c.Type = ChangeType(typ)
		out = append(out, c)
	}
	return out, wrapStore("query changes", rows.Err())
}

// LatestSequence returns the sequence of the newest change, or 0 when the log is empty.
func (s *LibSQLStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM workflow_changes`).Scan(&seq)
	if err != nil {
		return 0, wrapStore("read latest sequence", err)
	}
	return seq, nil
}
