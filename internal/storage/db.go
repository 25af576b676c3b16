package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection
type DB struct {
	db *sql.DB
}

// TradeRecord is one wallet's executed trade leg
type TradeRecord struct {
	ID          int64
	WalletID    string
	Mint        string
	Action      string // "buy" or "sell"
	SolAmount   float64
	TokenAmount uint64
	TxSig       string
	Timestamp   int64
}

// NewDB opens the database and creates the schema
func NewDB(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wallet_id TEXT NOT NULL,
		mint TEXT NOT NULL,
		action TEXT NOT NULL,
		sol_amount REAL NOT NULL DEFAULT 0,
		token_amount INTEGER NOT NULL DEFAULT 0,
		tx_sig TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS presets (
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		settings TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_mint ON trades(mint);
	`

	_, err := db.Exec(schema)
	return err
}

// RecordTrade logs one wallet's trade leg. Satisfies the coordinator's
// recorder hook.
func (d *DB) RecordTrade(walletID, mint, action string, solAmount float64, tokenAmount uint64, txSig string) error {
	_, err := d.db.Exec(`
		INSERT INTO trades (wallet_id, mint, action, sol_amount, token_amount, tx_sig, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		walletID, mint, action, solAmount, tokenAmount, txSig, time.Now().Unix())
	return err
}

// RecentTrades retrieves the most recent trade legs
func (d *DB) RecentTrades(limit int) ([]*TradeRecord, error) {
	rows, err := d.db.Query(`
		SELECT id, wallet_id, mint, action, sol_amount, token_amount, tx_sig, timestamp
		FROM trades ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Mint, &t.Action, &t.SolAmount, &t.TokenAmount, &t.TxSig, &t.Timestamp); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// TradesByMint retrieves trade legs for one token
func (d *DB) TradesByMint(mint string, limit int) ([]*TradeRecord, error) {
	rows, err := d.db.Query(`
		SELECT id, wallet_id, mint, action, sol_amount, token_amount, tx_sig, timestamp
		FROM trades WHERE mint = ? ORDER BY timestamp DESC LIMIT ?`, mint, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Mint, &t.Action, &t.SolAmount, &t.TokenAmount, &t.TxSig, &t.Timestamp); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// TradingStats returns aggregate counters across all recorded legs
func (d *DB) TradingStats() (totalTrades int, totalSolIn, totalSolOut float64, err error) {
	err = d.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN action = 'buy' THEN sol_amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'sell' THEN sol_amount ELSE 0 END), 0)
		FROM trades`).Scan(&totalTrades, &totalSolIn, &totalSolOut)
	return
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}
