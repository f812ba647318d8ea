// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Sentinel sell-transaction markers for positions closed without a sell
// executed by this process.
const (
	SellTxExternal  = "MANUAL_OR_EXTERNAL_SELL"
	SellTxAbandoned = "ABANDONED"
)

// Signal is an externally produced buy recommendation. Rows are written by
// the analysis process; this engine only consumes them.
type Signal struct {
	Mint      string
	CreatedAt time.Time
}

// Position records one buy-to-sell lifecycle for a token. A position is open
// while ClosedAt is nil; at most one open row exists per mint.
type Position struct {
	ID           int64
	Mint         string
	BoughtAmount float64 // human-readable token units
	SpentUSD     float64
	BuyTx        string
	CreatedAt    time.Time

	SoldAmount  float64 // running totals, updated per sell tranche
	ReceivedUSD float64
	PnL         float64
	SellTx      string
	ClosedAt    *time.Time
}

// Open reports whether the position is still held.
func (p *Position) Open() bool {
	return p.ClosedAt == nil
}

// SignalStore reads the shared signal queue.
type SignalStore interface {
	// NextFresh returns the oldest signal created after cutoff, or
	// ErrNotFound when the queue has nothing fresh.
	NextFresh(ctx context.Context, cutoff time.Time) (*Signal, error)
	// Consume removes all queued signals for mint so they are acted on at
	// most once.
	Consume(ctx context.Context, mint string) error
}

// PositionStore persists positions. All mutations are single-row updates
// keyed by position id.
type PositionStore interface {
	Insert(ctx context.Context, p *Position) error
	Get(ctx context.Context, id int64) (*Position, error)
	// OpenByMint returns the open position for mint, or ErrNotFound.
	OpenByMint(ctx context.Context, mint string) (*Position, error)
	ListOpen(ctx context.Context) ([]*Position, error)
	// LastClosedAt returns the close time of the most recently closed
	// position for mint; nil if the mint has never been traded.
	LastClosedAt(ctx context.Context, mint string) (*time.Time, error)
	// AddSellProceeds accumulates one tranche's results onto the row.
	AddSellProceeds(ctx context.Context, id int64, soldAmount, receivedUSD float64) error
	// Close stamps closed_at, records sellTx and computes pnl from the
	// accumulated totals. Returns the closed row.
	Close(ctx context.Context, id int64, sellTx string) (*Position, error)
}
