package offchain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS oracle_rounds (
    id TEXT PRIMARY KEY,
    height INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    mode TEXT NOT NULL DEFAULT '',
    price INTEGER,
    error TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_rounds_height ON oracle_rounds(height);
`

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

// ErrJournalPathRequired is returned when no journal path is configured.
var ErrJournalPathRequired = errors.New("offchain: journal path must be configured")

// Journal records worker rounds for operators. It is node-local and plays no
// part in consensus.
type Journal struct {
	db *sql.DB
}

// JournalDSN converts a filesystem path into an on-disk SQLite DSN.
func JournalDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrJournalPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string) (*Journal, error) {
	dsn, err := JournalDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record stores a finished round.
func (j *Journal) Record(ctx context.Context, round Round) error {
	if j == nil {
		return fmt.Errorf("journal not configured")
	}
	var price sql.NullInt64
	if round.Price != 0 {
		price = sql.NullInt64{Int64: int64(round.Price), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO oracle_rounds(id, height, outcome, mode, price, error, started_at, finished_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)
    `, round.ID, int64(round.Height), round.Outcome.String(), string(round.Mode), price, round.Err, round.StartedAt.UTC(), round.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

// Recent returns up to limit rounds, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Round, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT id, height, outcome, mode, price, error, started_at, finished_at
        FROM oracle_rounds
        ORDER BY finished_at DESC, height DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()
	var out []Round
	for rows.Next() {
		var (
			round   Round
			height  int64
			outcome string
			mode    string
			price   sql.NullInt64
		)
		if err := rows.Scan(&round.ID, &height, &outcome, &mode, &price, &round.Err, &round.StartedAt, &round.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		round.Height = uint64(height)
		round.Outcome = parseRoundOutcome(outcome)
		round.Mode = SubmitMode(mode)
		if price.Valid {
			round.Price = uint64(price.Int64)
		}
		out = append(out, round)
	}
	return out, rows.Err()
}

// Prune deletes rounds that finished before cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if j == nil {
		return 0, fmt.Errorf("journal not configured")
	}
	res, err := j.db.ExecContext(ctx, `DELETE FROM oracle_rounds WHERE finished_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune rounds: %w", err)
	}
	return res.RowsAffected()
}
