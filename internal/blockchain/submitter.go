// internal/blockchain/submitter.go
package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/retry"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/wallet"
)

// ErrValidityWindowExpired signals that the transaction's blockhash aged out
// before a confirmation was observed. This is ambiguous, not a failure: the
// transaction may still have landed.
var ErrValidityWindowExpired = errors.New("block height validity window expired")

// rpcAPI is the slice of the node RPC the submitter relies on. *rpc.Client
// satisfies it; tests substitute a fake.
type rpcAPI interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

// Submitter signs, submits and confirms prebuilt swap transactions.
type Submitter struct {
	rpc    rpcAPI
	wallet *wallet.Wallet
	logger *zap.Logger

	sendRetries    uint
	confirmPoll    time.Duration
	fallbackPolicy retry.Policy
}

func NewSubmitter(client *Client, w *wallet.Wallet, logger *zap.Logger) *Submitter {
	return &Submitter{
		rpc:         client.RPC(),
		wallet:      w,
		logger:      logger.Named("tx-submitter"),
		sendRetries: 3,
		confirmPoll: time.Second,
		// Delayed existence checks start late on purpose: a transaction
		// whose confirmation subscription timed out typically shows up in
		// the ledger within the next few slots.
		fallbackPolicy: retry.Policy{MaxTries: 4, InitialDelay: 5 * time.Second, MaxElapsed: 2 * time.Minute},
	}
}

// SubmitAndConfirm signs rawTx, submits it with preflight disabled (the
// caller already validated economics via the quote) and waits for confirmed
// commitment within the quote's validity window. If the window expires
// without a visible confirmation, it falls back to delayed existence checks
// against transaction history before declaring failure.
func (s *Submitter) SubmitAndConfirm(ctx context.Context, rawTx []byte, lastValidBlockHeight uint64) (solana.Signature, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decode swap transaction: %w", err)
	}

	if err := s.wallet.SignTransaction(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	maxRetries := s.sendRetries
	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight: true,
		MaxRetries:    &maxRetries,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	s.logger.Info("Transaction submitted",
		zap.String("signature", sig.String()),
		zap.Uint64("last_valid_block_height", lastValidBlockHeight))

	err = s.awaitConfirmation(ctx, sig, lastValidBlockHeight)
	if err == nil {
		return sig, nil
	}
	if !errors.Is(err, ErrValidityWindowExpired) {
		return sig, err
	}

	s.logger.Warn("Validity window expired, falling back to existence checks",
		zap.String("signature", sig.String()))
	if err := s.confirmByExistence(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// awaitConfirmation polls signature status until confirmed commitment, an
// on-chain execution error, or expiry of the validity window.
func (s *Submitter) awaitConfirmation(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(s.confirmPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := s.signatureStatus(ctx, sig, false)
			if err != nil {
				s.logger.Warn("Error getting signature status", zap.Error(err))
				continue
			}
			if status != nil {
				if status.Err != nil {
					return fmt.Errorf("transaction failed on-chain: %v", status.Err)
				}
				if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
					status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
					return nil
				}
			}

			height, err := s.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
			if err != nil {
				s.logger.Warn("Error getting block height", zap.Error(err))
				continue
			}
			if height > lastValidBlockHeight {
				return ErrValidityWindowExpired
			}
		}
	}
}

// confirmByExistence performs bounded delayed lookups against transaction
// history. Finding the transaction recorded without an error means it
// landed; a recorded execution error is a hard failure.
func (s *Submitter) confirmByExistence(ctx context.Context, sig solana.Signature) error {
	_, err := retry.Do(ctx, s.fallbackPolicy, func() (struct{}, error) {
		status, err := s.signatureStatus(ctx, sig, true)
		if err != nil {
			return struct{}{}, err
		}
		if status == nil {
			return struct{}{}, fmt.Errorf("transaction %s not yet in ledger", sig)
		}
		if status.Err != nil {
			return struct{}{}, retry.Permanent(fmt.Errorf("transaction failed on-chain: %v", status.Err))
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("confirmation fallback: %w", err)
	}

	s.logger.Info("Transaction found recorded after validity window",
		zap.String("signature", sig.String()))
	return nil
}

func (s *Submitter) signatureStatus(ctx context.Context, sig solana.Signature, searchHistory bool) (*rpc.SignatureStatusesResult, error) {
	result, err := s.rpc.GetSignatureStatuses(ctx, searchHistory, sig)
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}
