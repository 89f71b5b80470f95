package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"TickerStream/internal/model"
)

// SQLiteRecorder persists history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *zap.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *zap.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so dashboards can read while the stream writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			symbol         TEXT NOT NULL,
			price          REAL,
			change         REAL,
			change_percent REAL,
			volume         REAL,
			high           REAL,
			low            REAL,
			open           REAL,
			last_updated   INTEGER,
			is_real_data   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_sym_ts ON quotes(symbol, timestamp)`,

		`CREATE TABLE IF NOT EXISTS connection_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			symbol     TEXT NOT NULL,
			session_id TEXT,
			state      TEXT NOT NULL,
			error      TEXT,
			attempts   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conn_ts ON connection_events(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordQuote(q *model.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO quotes
		(timestamp, symbol, price, change, change_percent, volume, high, low, open, last_updated, is_real_data)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		time.Now().UnixMilli(), q.Symbol, q.Price, q.Change, q.ChangePercent,
		q.Volume, q.High, q.Low, q.Open, q.LastUpdated.UnixMilli(), q.IsRealData,
	)
	return err
}

func (r *SQLiteRecorder) RecordConnectionEvent(evt *ConnectionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.Exec(`INSERT INTO connection_events
		(timestamp, symbol, session_id, state, error, attempts)
		VALUES (?,?,?,?,?,?)`,
		ts.UnixMilli(), evt.Symbol, evt.SessionID, string(evt.State), evt.Error, evt.Attempts,
	)
	return err
}

func (r *SQLiteRecorder) PruneBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, table := range []string{"quotes", "connection_events"} {
		res, err := r.db.Exec(`DELETE FROM `+table+` WHERE timestamp < ?`, cutoff.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (r *SQLiteRecorder) LatestQuote(symbol string) (*model.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		q       model.Quote
		updated int64
	)
	err := r.db.QueryRow(`SELECT symbol, price, change, change_percent, volume, high, low, open, last_updated, is_real_data
		FROM quotes WHERE symbol = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, symbol).
		Scan(&q.Symbol, &q.Price, &q.Change, &q.ChangePercent, &q.Volume,
			&q.High, &q.Low, &q.Open, &updated, &q.IsRealData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest quote: %w", err)
	}
	q.LastUpdated = time.UnixMilli(updated)
	return &q, nil
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("closing sqlite recorder")
	return r.db.Close()
}
