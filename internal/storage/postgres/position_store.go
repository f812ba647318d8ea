// internal/storage/postgres/position_store.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	db *DB
}

func NewPositionStore(db *DB) *PositionStore {
	return &PositionStore{db: db}
}

var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	id, mint, bought_amount, spent_usd, buy_tx, created_at,
	sold_amount, received_usd, pnl, sell_tx, closed_at
`

// Insert adds a new open position and fills in its id. The partial unique
// index on (mint) WHERE closed_at IS NULL enforces the one-open-row-per-mint
// invariant; a violation surfaces as ErrDuplicateKey.
func (s *PositionStore) Insert(ctx context.Context, p *storage.Position) error {
	query := `
		INSERT INTO positions (mint, bought_amount, spent_usd, buy_tx, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := s.db.Pool().QueryRow(ctx, query,
		p.Mint, p.BoughtAmount, p.SpentUSD, p.BuyTx, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Get retrieves a position by id. Returns ErrNotFound if it does not exist.
func (s *PositionStore) Get(ctx context.Context, id int64) (*storage.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(s.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// OpenByMint returns the open position for mint, or ErrNotFound.
func (s *PositionStore) OpenByMint(ctx context.Context, mint string) (*storage.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE mint = $1 AND closed_at IS NULL`

	p, err := scanPosition(s.db.Pool().QueryRow(ctx, query, mint))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("open position by mint: %w", err)
	}
	return p, nil
}

// ListOpen returns all open positions, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]*storage.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE closed_at IS NULL ORDER BY created_at ASC`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()

	var positions []*storage.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan open position row: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open position rows: %w", err)
	}
	return positions, nil
}

// LastClosedAt returns when mint's most recent position closed, or nil.
func (s *PositionStore) LastClosedAt(ctx context.Context, mint string) (*time.Time, error) {
	query := `
		SELECT closed_at FROM positions
		WHERE mint = $1 AND closed_at IS NOT NULL
		ORDER BY closed_at DESC
		LIMIT 1
	`

	var closedAt time.Time
	err := s.db.Pool().QueryRow(ctx, query, mint).Scan(&closedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("last closed at: %w", err)
	}
	return &closedAt, nil
}

// AddSellProceeds accumulates one tranche's sold amount and proceeds.
func (s *PositionStore) AddSellProceeds(ctx context.Context, id int64, soldAmount, receivedUSD float64) error {
	query := `
		UPDATE positions
		SET sold_amount = sold_amount + $2, received_usd = received_usd + $3
		WHERE id = $1 AND closed_at IS NULL
	`

	tag, err := s.db.Pool().Exec(ctx, query, id, soldAmount, receivedUSD)
	if err != nil {
		return fmt.Errorf("add sell proceeds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Close stamps the row closed, recording sellTx and deriving pnl from the
// accumulated proceeds.
func (s *PositionStore) Close(ctx context.Context, id int64, sellTx string) (*storage.Position, error) {
	query := `
		UPDATE positions
		SET closed_at = now(), sell_tx = $2, pnl = received_usd - spent_usd
		WHERE id = $1 AND closed_at IS NULL
		RETURNING ` + positionColumns

	p, err := scanPosition(s.db.Pool().QueryRow(ctx, query, id, sellTx))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("close position: %w", err)
	}
	return p, nil
}

func scanPosition(row pgx.Row) (*storage.Position, error) {
	var p storage.Position
	err := row.Scan(
		&p.ID, &p.Mint, &p.BoughtAmount, &p.SpentUSD, &p.BuyTx, &p.CreatedAt,
		&p.SoldAmount, &p.ReceivedUSD, &p.PnL, &p.SellTx, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
