// internal/blockchain/client.go
package blockchain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Client is a thin adapter over the Solana JSON-RPC node.
type Client struct {
	rpc    *rpc.Client
	logger *zap.Logger
}

var ErrAccountNotFound = errors.New("account not found")

// IsAccountNotFoundError checks whether err denotes a missing account. The
// node reports this as a plain message rather than a typed error.
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// NewClient creates a client for the given RPC URL.
func NewClient(rpcURL string, logger *zap.Logger) *Client {
	return &Client{
		rpc:    rpc.New(rpcURL),
		logger: logger.Named("rpc-client"),
	}
}

// RPC exposes the underlying rpc client for the transaction submitter.
func (c *Client) RPC() *rpc.Client {
	return c.rpc
}

// TokenBalance returns the wallet's balance for mint in lamports (smallest
// units). A missing token account reads as zero: the wallet simply holds
// none of the token.
func (c *Client) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("derive associated token account: %w", err)
	}

	result, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if IsAccountNotFoundError(err) {
			return 0, nil
		}
		c.logger.Debug("GetTokenAccountBalance error",
			zap.String("mint", mint.String()),
			zap.Error(err))
		return 0, fmt.Errorf("get token balance: %w", err)
	}
	if result == nil || result.Value == nil {
		return 0, nil
	}

	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token balance %q: %w", result.Value.Amount, err)
	}
	return amount, nil
}

// MintDecimals reads the decimals field from the SPL mint account.
func (c *Client) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	result, err := c.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		c.logger.Debug("GetAccountInfo error",
			zap.String("mint", mint.String()),
			zap.Error(err))
		return 0, fmt.Errorf("get mint account: %w", err)
	}
	if result == nil || result.Value == nil {
		return 0, ErrAccountNotFound
	}

	data := result.Value.Data.GetBinary()
	// SPL mint layout: decimals is the byte at offset 44.
	if len(data) < 45 {
		return 0, fmt.Errorf("mint account data too short: %d bytes", len(data))
	}
	return data[44], nil
}

// DustThreshold returns the balance below which a holding is economically
// negligible: one thousandth of a whole token, floor one lamport. The same
// threshold is shared by the monitor's external-close check and the sell
// loop.
func DustThreshold(decimals uint8) uint64 {
	threshold := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		threshold *= 10
	}
	threshold /= 1000
	if threshold == 0 {
		threshold = 1
	}
	return threshold
}
