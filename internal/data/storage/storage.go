package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/songzhibin97/quantaguard/internal/models"

	_ "github.com/lib/pq"
)

// PostgresStorage keeps trackers (one row per symbol) and the trade ledger.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(connStr string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStorage{db: db}

	err = s.initTables()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return s, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// Put upserts the full tracker row in a single statement.
func (s *PostgresStorage) Put(ctx context.Context, rec models.TrackerRecord) error {
	query := `
        INSERT INTO trackers (
            symbol, status, side, entry_order_id, created_at,
            expires_at, strategy_tag, atr_value_at_entry, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9
        )
        ON CONFLICT (symbol) DO UPDATE SET
            status = EXCLUDED.status,
            side = EXCLUDED.side,
            entry_order_id = EXCLUDED.entry_order_id,
            created_at = EXCLUDED.created_at,
            expires_at = EXCLUDED.expires_at,
            strategy_tag = EXCLUDED.strategy_tag,
            atr_value_at_entry = EXCLUDED.atr_value_at_entry,
            updated_at = EXCLUDED.updated_at
    `

	var expires sql.NullTime
	if rec.ExpiresAt != nil {
		expires = sql.NullTime{Time: *rec.ExpiresAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.Symbol,
		string(rec.Status),
		string(rec.Side),
		rec.EntryOrderID,
		rec.CreatedAt,
		expires,
		rec.StrategyTag,
		rec.ATRAtEntry,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save tracker: %w", err)
	}

	return nil
}

func (s *PostgresStorage) Delete(ctx context.Context, symbol string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trackers WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("failed to delete tracker: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Load(ctx context.Context) ([]models.TrackerRecord, error) {
	query := `
        SELECT symbol, status, side, entry_order_id, created_at,
               expires_at, strategy_tag, atr_value_at_entry
        FROM trackers
        ORDER BY symbol ASC
    `

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query trackers: %w", err)
	}
	defer rows.Close()

	var result []models.TrackerRecord
	for rows.Next() {
		var (
			rec     models.TrackerRecord
			status  string
			side    string
			expires sql.NullTime
		)
		err := rows.Scan(
			&rec.Symbol,
			&status,
			&side,
			&rec.EntryOrderID,
			&rec.CreatedAt,
			&expires,
			&rec.StrategyTag,
			&rec.ATRAtEntry,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracker: %w", err)
		}
		rec.Status = models.TrackerStatus(status)
		rec.Side = models.Side(side)
		if expires.Valid {
			t := expires.Time
			rec.ExpiresAt = &t
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracker rows: %w", err)
	}

	return result, nil
}

// RecordTrade appends one ledger row.
func (s *PostgresStorage) RecordTrade(ctx context.Context, trade models.TradeRecord) error {
	query := `
        INSERT INTO trade_ledger (
            symbol, side, order_type, quantity, price,
            event, strategy_tag, order_id, created_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9
        )
    `

	_, err := s.db.ExecContext(ctx, query,
		trade.Symbol,
		string(trade.Side),
		trade.OrderType,
		trade.Quantity,
		trade.Price,
		trade.Event,
		trade.StrategyTag,
		trade.OrderID,
		trade.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}

	return nil
}

// GetTrades returns ledger rows of symbol between start and end.
func (s *PostgresStorage) GetTrades(ctx context.Context, symbol string, start, end time.Time) ([]models.TradeRecord, error) {
	query := `
        SELECT symbol, side, order_type, quantity, price,
               event, strategy_tag, order_id, created_at
        FROM trade_ledger
        WHERE symbol = $1 AND created_at BETWEEN $2 AND $3
        ORDER BY created_at ASC, id ASC
    `

	rows, err := s.db.QueryContext(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var result []models.TradeRecord
	for rows.Next() {
		var (
			trade models.TradeRecord
			side  string
		)
		err := rows.Scan(
			&trade.Symbol,
			&side,
			&trade.OrderType,
			&trade.Quantity,
			&trade.Price,
			&trade.Event,
			&trade.StrategyTag,
			&trade.OrderID,
			&trade.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trade.Side = models.Side(side)
		result = append(result, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}

	return result, nil
}

func (s *PostgresStorage) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trackers (
			symbol VARCHAR(50) PRIMARY KEY,
			status VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			entry_order_id VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			strategy_tag VARCHAR(50) NOT NULL DEFAULT '',
			atr_value_at_entry DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS trade_ledger (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(50) NOT NULL,
			side VARCHAR(10) NOT NULL,
			order_type VARCHAR(50),
			quantity NUMERIC(28, 12),
			price NUMERIC(28, 12),
			event VARCHAR(20) NOT NULL,
			strategy_tag VARCHAR(50),
			order_id VARCHAR(140),
			created_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS trade_ledger_symbol_created_at
			ON trade_ledger (symbol, created_at)`,
	}

	for _, query := range queries {
		_, err := s.db.Exec(query)
		if err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}
