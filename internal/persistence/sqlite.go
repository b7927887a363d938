package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path and runs
// migrations.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Ping verifies the database connection is alive.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			intent_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			mode INTEGER NOT NULL,
			status TEXT NOT NULL,
			quantity TEXT NOT NULL,
			filled_qty TEXT NOT NULL DEFAULT '0',
			avg_entry_price TEXT NOT NULL DEFAULT '0',
			stop_price TEXT NOT NULL DEFAULT '0',
			take_profit_price TEXT NOT NULL DEFAULT '0',
			entry_order_id TEXT,
			stop_order_id TEXT,
			take_profit_order_id TEXT,
			exit_price TEXT NOT NULL DEFAULT '0',
			exit_reason TEXT,
			realized_pl TEXT NOT NULL DEFAULT '0',
			created_at DATETIME NOT NULL,
			closed_at DATETIME,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_created_at ON positions(created_at)`,

		`CREATE TABLE IF NOT EXISTS confirmations (
			id TEXT PRIMARY KEY,
			intent_id TEXT NOT NULL,
			state TEXT NOT NULL,
			confidence TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			resolved_at DATETIME,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_confirmations_intent ON confirmations(intent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_confirmations_created_at ON confirmations(created_at)`,

		`CREATE TABLE IF NOT EXISTS capital_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			mode INTEGER NOT NULL,
			available TEXT NOT NULL,
			reserved TEXT NOT NULL,
			realized_pl TEXT NOT NULL DEFAULT '0',
			open_positions INTEGER NOT NULL DEFAULT 0,
			open_real_positions INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_capital_timestamp ON capital_snapshots(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SavePosition upserts a position's full lifecycle state.
func (r *SQLiteRepository) SavePosition(ctx context.Context, p types.Position) error {
	query := `INSERT OR REPLACE INTO positions
		(id, intent_id, symbol, side, mode, status, quantity, filled_qty, avg_entry_price,
		 stop_price, take_profit_price, entry_order_id, stop_order_id, take_profit_order_id,
		 exit_price, exit_reason, realized_pl, created_at, closed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`

	var closedAt any
	if !p.ClosedAt.IsZero() {
		closedAt = p.ClosedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.IntentID,
		p.Symbol,
		p.Side,
		p.Mode,
		string(p.Status),
		p.Quantity.String(),
		p.FilledQty.String(),
		p.AvgEntryPrice.String(),
		p.StopPrice.String(),
		p.TakeProfitPrice.String(),
		p.EntryOrderID,
		p.StopOrderID,
		p.TakeProfitOrderID,
		p.ExitPrice.String(),
		p.ExitReason,
		p.RealizedPL.String(),
		p.CreatedAt,
		closedAt,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	return nil
}

const positionColumns = `id, intent_id, symbol, side, mode, status, quantity, filled_qty,
	avg_entry_price, stop_price, take_profit_price, entry_order_id, stop_order_id,
	take_profit_order_id, exit_price, exit_reason, realized_pl, created_at, closed_at`

// GetPosition returns a position by id, or ErrPositionNotFound.
func (r *SQLiteRepository) GetPosition(ctx context.Context, id string) (*types.Position, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)

	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", types.ErrPositionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}
	return p, nil
}

// GetNonTerminalPositions returns positions left mid-lifecycle, used by
// startup recovery.
func (r *SQLiteRepository) GetNonTerminalPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status NOT IN (?, ?, ?)`,
		string(types.PositionClosed), string(types.PositionFailed), string(types.PositionCanceled))
	if err != nil {
		return nil, fmt.Errorf("query non-terminal positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanPositions(rows)
}

// GetPositionsSince returns positions created at or after from.
func (r *SQLiteRepository) GetPositionsSince(ctx context.Context, from time.Time) ([]types.Position, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE created_at >= ? ORDER BY created_at`, from)
	if err != nil {
		return nil, fmt.Errorf("query positions since: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanPositions(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(s scanner) (*types.Position, error) {
	var p types.Position
	var quantity, filledQty, avgEntry, stopPrice, tpPrice, exitPrice, realizedPL string
	var entryOrderID, stopOrderID, tpOrderID, exitReason sql.NullString
	var status string
	var closedAt sql.NullTime

	err := s.Scan(
		&p.ID, &p.IntentID, &p.Symbol, &p.Side, &p.Mode, &status,
		&quantity, &filledQty, &avgEntry, &stopPrice, &tpPrice,
		&entryOrderID, &stopOrderID, &tpOrderID,
		&exitPrice, &exitReason, &realizedPL,
		&p.CreatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = types.PositionStatus(status)
	p.Quantity, _ = decimal.NewFromString(quantity)
	p.FilledQty, _ = decimal.NewFromString(filledQty)
	p.AvgEntryPrice, _ = decimal.NewFromString(avgEntry)
	p.StopPrice, _ = decimal.NewFromString(stopPrice)
	p.TakeProfitPrice, _ = decimal.NewFromString(tpPrice)
	p.ExitPrice, _ = decimal.NewFromString(exitPrice)
	p.RealizedPL, _ = decimal.NewFromString(realizedPL)
	p.EntryOrderID = entryOrderID.String
	p.StopOrderID = stopOrderID.String
	p.TakeProfitOrderID = tpOrderID.String
	p.ExitReason = exitReason.String
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}

	return &p, nil
}

func scanPositions(rows *sql.Rows) ([]types.Position, error) {
	var positions []types.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// SaveConfirmation upserts a confirmation ticket audit record.
func (r *SQLiteRepository) SaveConfirmation(ctx context.Context, t types.ConfirmationTicket) error {
	query := `INSERT OR REPLACE INTO confirmations
		(id, intent_id, state, confidence, created_at, expires_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var resolvedAt any
	if !t.ResolvedAt.IsZero() {
		resolvedAt = t.ResolvedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.IntentID,
		string(t.State),
		t.Confidence.String(),
		t.CreatedAt,
		t.ExpiresAt,
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert confirmation: %w", err)
	}

	return nil
}

// GetConfirmations returns confirmation audit records in a time range.
func (r *SQLiteRepository) GetConfirmations(ctx context.Context, from, to time.Time) ([]types.ConfirmationTicket, error) {
	query := `SELECT id, intent_id, state, confidence, created_at, expires_at, resolved_at
		FROM confirmations WHERE created_at BETWEEN ? AND ? ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query confirmations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tickets []types.ConfirmationTicket
	for rows.Next() {
		var t types.ConfirmationTicket
		var state, confidence string
		var resolvedAt sql.NullTime

		if err := rows.Scan(&t.ID, &t.IntentID, &state, &confidence, &t.CreatedAt, &t.ExpiresAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		t.State = types.TicketState(state)
		t.Confidence, _ = decimal.NewFromString(confidence)
		if resolvedAt.Valid {
			t.ResolvedAt = resolvedAt.Time
		}

		tickets = append(tickets, t)
	}

	return tickets, rows.Err()
}

// SaveCapitalSnapshot appends a capital snapshot.
func (r *SQLiteRepository) SaveCapitalSnapshot(ctx context.Context, s types.CapitalSnapshot) error {
	query := `INSERT INTO capital_snapshots
		(timestamp, mode, available, reserved, realized_pl, open_positions, open_real_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		s.Timestamp,
		s.Mode,
		s.Available.String(),
		s.Reserved.String(),
		s.RealizedPL.String(),
		s.OpenPositions,
		s.OpenRealPositions,
	)
	if err != nil {
		return fmt.Errorf("insert capital snapshot: %w", err)
	}

	return nil
}

// GetLatestCapitalSnapshot returns the most recent snapshot for a mode.
func (r *SQLiteRepository) GetLatestCapitalSnapshot(ctx context.Context, mode types.Mode) (*types.CapitalSnapshot, error) {
	query := `SELECT timestamp, mode, available, reserved, realized_pl, open_positions, open_real_positions
		FROM capital_snapshots WHERE mode = ? ORDER BY timestamp DESC LIMIT 1`

	var s types.CapitalSnapshot
	var available, reserved, realizedPL string

	err := r.db.QueryRowContext(ctx, query, mode).Scan(
		&s.Timestamp,
		&s.Mode,
		&available,
		&reserved,
		&realizedPL,
		&s.OpenPositions,
		&s.OpenRealPositions,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query capital snapshot: %w", err)
	}

	s.Available, _ = decimal.NewFromString(available)
	s.Reserved, _ = decimal.NewFromString(reserved)
	s.RealizedPL, _ = decimal.NewFromString(realizedPL)

	return &s, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

var _ Repository = (*SQLiteRepository)(nil)
