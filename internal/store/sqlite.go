package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spotbot-go/internal/execution"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"
)

// SQLiteJournal keeps trade records in a WAL-mode SQLite table.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLiteJournal opens or creates the database at path.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=FULL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			fee TEXT NOT NULL,
			fee_asset TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			client_order_id TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create trades table: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Append inserts one record.
func (s *SQLiteJournal) Append(ctx context.Context, rec execution.TradeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (timestamp, symbol, side, price, quantity, fee, fee_asset, status, client_order_id, order_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Symbol, string(rec.Side),
		rec.FillPrice.String(), rec.Quantity.String(), rec.Fee.String(), rec.FeeAsset,
		rec.Status, rec.ClientOrderID, rec.OrderID,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// Recent returns up to limit of the latest records, oldest first.
func (s *SQLiteJournal) Recent(ctx context.Context, limit int) ([]execution.TradeRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, symbol, side, price, quantity, fee, fee_asset, status, client_order_id, order_id
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []execution.TradeRecord
	for rows.Next() {
		var (
			ts, side, price, qty, fee string
			rec                       execution.TradeRecord
		)
		if err := rows.Scan(&ts, &rec.Symbol, &side, &price, &qty, &fee, &rec.FeeAsset, &rec.Status, &rec.ClientOrderID, &rec.OrderID); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		rec.Side = execution.Side(side)
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		if rec.FillPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", qty, err)
		}
		if rec.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("parse fee %q: %w", fee, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close releases the database handle.
func (s *SQLiteJournal) Close() error { return s.db.Close() }
