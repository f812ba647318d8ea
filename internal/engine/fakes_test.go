package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/jupiter"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/storage"
)

type fakeSignalStore struct {
	queue []*storage.Signal
}

func (f *fakeSignalStore) NextFresh(_ context.Context, cutoff time.Time) (*storage.Signal, error) {
	for _, s := range f.queue {
		if s.CreatedAt.After(cutoff) {
			return s, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeSignalStore) Consume(_ context.Context, mint string) error {
	kept := f.queue[:0]
	for _, s := range f.queue {
		if s.Mint != mint {
			kept = append(kept, s)
		}
	}
	f.queue = kept
	return nil
}

type fakePositionStore struct {
	mu        sync.Mutex
	nextID    int64
	positions map[int64]*storage.Position
	closedAt  map[string]time.Time

	insertErr error
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{
		nextID:    1,
		positions: map[int64]*storage.Position{},
		closedAt:  map[string]time.Time{},
	}
}

func (f *fakePositionStore) Insert(_ context.Context, p *storage.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, existing := range f.positions {
		if existing.Mint == p.Mint && existing.Open() {
			return storage.ErrDuplicateKey
		}
	}
	p.ID = f.nextID
	f.nextID++
	p.CreatedAt = time.Now()
	cp := *p
	f.positions[p.ID] = &cp
	return nil
}

func (f *fakePositionStore) Get(_ context.Context, id int64) (*storage.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePositionStore) OpenByMint(_ context.Context, mint string) (*storage.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.positions {
		if p.Mint == mint && p.Open() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakePositionStore) ListOpen(_ context.Context) ([]*storage.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.Position
	for _, p := range f.positions {
		if p.Open() {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePositionStore) LastClosedAt(_ context.Context, mint string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.closedAt[mint]
	if !ok {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

func (f *fakePositionStore) AddSellProceeds(_ context.Context, id int64, soldAmount, receivedUSD float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok || !p.Open() {
		return storage.ErrNotFound
	}
	p.SoldAmount += soldAmount
	p.ReceivedUSD += receivedUSD
	return nil
}

func (f *fakePositionStore) Close(_ context.Context, id int64, sellTx string) (*storage.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok || !p.Open() {
		return nil, storage.ErrNotFound
	}
	now := time.Now()
	p.ClosedAt = &now
	p.SellTx = sellTx
	p.PnL = p.ReceivedUSD - p.SpentUSD
	f.closedAt[p.Mint] = now
	cp := *p
	return &cp, nil
}

var _ storage.SignalStore = (*fakeSignalStore)(nil)
var _ storage.PositionStore = (*fakePositionStore)(nil)

// fakeQuoter prices every pair at a fixed rate. usdPerToken is the sell
// price of one whole token (6-decimal USDC out per token lamport in is
// derived from tokenDecimals).
type fakeQuoter struct {
	usdPerToken   float64
	tokenDecimals uint8
	quoteErr      error
	swapErr       error

	amounts []uint64 // input amount of every quote requested
}

func (f *fakeQuoter) Quote(_ context.Context, inputMint, outputMint string, amount uint64) (*jupiter.Quote, error) {
	f.amounts = append(f.amounts, amount)
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	var out uint64
	if inputMint == jupiter.USDCMint {
		// buy: USD in, tokens out
		usd := jupiter.LamportsToUSD(amount)
		tokens := usd / f.usdPerToken
		out = uint64(tokens * pow10(f.tokenDecimals))
	} else {
		// sell: tokens in, USD out
		tokens := float64(amount) / pow10(f.tokenDecimals)
		out = jupiter.USDToLamports(tokens * f.usdPerToken)
	}
	return &jupiter.Quote{InputMint: inputMint, OutputMint: outputMint, InAmount: amount, OutAmount: out}, nil
}

func (f *fakeQuoter) BuildSwap(_ context.Context, q *jupiter.Quote, _ string) (*jupiter.SwapTransaction, error) {
	if f.swapErr != nil {
		return nil, f.swapErr
	}
	return &jupiter.SwapTransaction{Raw: []byte{1}, LastValidBlockHeight: 100}, nil
}

func pow10(decimals uint8) float64 {
	out := 1.0
	for i := uint8(0); i < decimals; i++ {
		out *= 10
	}
	return out
}

var errTransient = errors.New("transient submit failure")

type fakeChain struct {
	mu       sync.Mutex
	usdc     uint64
	token    uint64
	decimals uint8
}

func (f *fakeChain) TokenBalance(_ context.Context, _ solana.PublicKey, mint solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mint.String() == jupiter.USDCMint {
		return f.usdc, nil
	}
	return f.token, nil
}

func (f *fakeChain) MintDecimals(_ context.Context, _ solana.PublicKey) (uint8, error) {
	return f.decimals, nil
}

func (f *fakeChain) setToken(balance uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = balance
}

type fakeSubmitter struct {
	mu        sync.Mutex
	calls     int
	err       error
	failFirst int // first N calls fail
	onSuccess func()
}

func (f *fakeSubmitter) SubmitAndConfirm(_ context.Context, _ []byte, _ uint64) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return solana.Signature{}, f.err
	}
	if f.calls <= f.failFirst {
		return solana.Signature{}, errTransient
	}
	if f.onSuccess != nil {
		f.onSuccess()
	}
	return solana.Signature{byte(f.calls)}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Send(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}
