package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	user_id TEXT,
	action TEXT NOT NULL,
	resource TEXT,
	outcome TEXT NOT NULL,
	detail TEXT,
	risk_score INTEGER NOT NULL,
	frameworks TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_ts ON audit_entries (ts);
`

// SQLiteStore is a durable audit store backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the audit database at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// Serialized access keeps Append ordering simple under concurrency.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, entry Entry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, ts, user_id, action, resource, outcome, detail, risk_score, frameworks)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Timestamp.UnixNano(),
		entry.UserID,
		entry.Action,
		entry.Resource,
		string(entry.Outcome),
		string(detail),
		entry.RiskScore,
		strings.Join(entry.Frameworks, ","),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Between(ctx context.Context, from, to time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, user_id, action, resource, outcome, detail, risk_score, frameworks
		 FROM audit_entries WHERE ts >= ? AND ts < ? ORDER BY ts ASC`,
		from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry      Entry
			ts         int64
			outcome    string
			detail     string
			frameworks string
		)
		if err := rows.Scan(&entry.ID, &ts, &entry.UserID, &entry.Action, &entry.Resource,
			&outcome, &detail, &entry.RiskScore, &frameworks); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Timestamp = time.Unix(0, ts).UTC()
		entry.Outcome = Outcome(outcome)
		if detail != "" && detail != "null" {
			if err := json.Unmarshal([]byte(detail), &entry.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		if frameworks != "" {
			entry.Frameworks = strings.Split(frameworks, ",")
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}
