// internal/storage/postgres/signal_store.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/storage"
)

// SignalStore implements storage.SignalStore against the shared signal queue
// written by the external analysis process.
type SignalStore struct {
	db *DB
}

func NewSignalStore(db *DB) *SignalStore {
	return &SignalStore{db: db}
}

var _ storage.SignalStore = (*SignalStore)(nil)

// NextFresh returns the oldest signal newer than cutoff. Stale rows are
// never selected, which keeps the engine from trading on recommendations
// produced before an outage.
func (s *SignalStore) NextFresh(ctx context.Context, cutoff time.Time) (*storage.Signal, error) {
	query := `
		SELECT mint, signal_ts
		FROM signals
		WHERE signal_ts > $1
		ORDER BY signal_ts ASC
		LIMIT 1
	`

	var sig storage.Signal
	err := s.db.Pool().QueryRow(ctx, query, cutoff).Scan(&sig.Mint, &sig.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("next fresh signal: %w", err)
	}
	return &sig, nil
}

// Consume deletes every queued signal for mint.
func (s *SignalStore) Consume(ctx context.Context, mint string) error {
	if _, err := s.db.Pool().Exec(ctx, `DELETE FROM signals WHERE mint = $1`, mint); err != nil {
		return fmt.Errorf("consume signal: %w", err)
	}
	return nil
}
