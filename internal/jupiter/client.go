// internal/jupiter/client.go
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/retry"
)

// USDCMint is the quote currency for every trade the engine makes.
const USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// USDCDecimals scales between USD amounts and USDC lamports.
const USDCDecimals = 6

// ErrNoRoute reports that the aggregator found no tradable route for the
// requested pair and size. Transient for freshly listed tokens, so callers
// retry it a bounded number of times before failing closed.
var ErrNoRoute = errors.New("no tradable route")

// Quote is one priced exchange returned by the aggregator. Never persisted;
// used only to compute a trade or a safety verdict.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct float64 // percent, not fraction

	// raw is the untouched quote response, passed back verbatim when
	// requesting the prebuilt swap transaction.
	raw json.RawMessage
}

// SwapTransaction is a prebuilt, unsigned swap ready for signing and
// submission.
type SwapTransaction struct {
	Raw                  []byte
	LastValidBlockHeight uint64
}

// Client talks to the aggregator quote/swap HTTP API.
type Client struct {
	baseURL     string
	slippageBps int
	http        *http.Client
	policy      retry.Policy
	logger      *zap.Logger
}

func NewClient(baseURL string, slippageBps int, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		slippageBps: slippageBps,
		http:        &http.Client{Timeout: 15 * time.Second},
		policy:      retry.Quick(),
		logger:      logger.Named("jupiter"),
	}
}

// USDToLamports converts a USD amount to USDC lamports.
func USDToLamports(usd float64) uint64 {
	return uint64(usd * 1e6)
}

// LamportsToUSD converts USDC lamports to a USD amount.
func LamportsToUSD(lamports uint64) float64 {
	return float64(lamports) / 1e6
}

// Quote requests a priced exchange of amount (in input-mint lamports).
// Transient failures, including no-route responses, are retried under the
// client's policy; a persistent no-route surfaces as ErrNoRoute.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*Quote, error) {
	return retry.Do(ctx, c.policy, func() (*Quote, error) {
		return c.quoteOnce(ctx, inputMint, outputMint, amount)
	})
}

func (c *Client) quoteOnce(ctx context.Context, inputMint, outputMint string, amount uint64) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(c.slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build quote request: %w", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quote response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isNoRouteBody(body) {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("quote returned status %d: %s", resp.StatusCode, truncate(body))
	}

	var parsed struct {
		InAmount       string `json:"inAmount"`
		OutAmount      string `json:"outAmount"`
		PriceImpactPct string `json:"priceImpactPct"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}

	inAmount, err := strconv.ParseUint(parsed.InAmount, 10, 64)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("parse inAmount %q: %w", parsed.InAmount, err))
	}
	outAmount, err := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("parse outAmount %q: %w", parsed.OutAmount, err))
	}

	// The API reports impact as a fraction ("0.012" = 1.2%).
	impact := 0.0
	if parsed.PriceImpactPct != "" {
		fraction, err := strconv.ParseFloat(parsed.PriceImpactPct, 64)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("parse priceImpactPct %q: %w", parsed.PriceImpactPct, err))
		}
		impact = fraction * 100
	}

	return &Quote{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: impact,
		raw:            body,
	}, nil
}

// BuildSwap exchanges a quote for the aggregator's prebuilt swap
// transaction, retried under the same policy as quotes.
func (c *Client) BuildSwap(ctx context.Context, q *Quote, userPublicKey string) (*SwapTransaction, error) {
	return retry.Do(ctx, c.policy, func() (*SwapTransaction, error) {
		return c.buildSwapOnce(ctx, q, userPublicKey)
	})
}

func (c *Client) buildSwapOnce(ctx context.Context, q *Quote, userPublicKey string) (*SwapTransaction, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"quoteResponse":    q.raw,
		"userPublicKey":    userPublicKey,
		"wrapAndUnwrapSol": true,
	})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encode swap request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build swap request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swap request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap returned status %d: %s", resp.StatusCode, truncate(body))
	}

	var parsed struct {
		SwapTransaction      string `json:"swapTransaction"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode swap response: %w", err)
	}
	if parsed.SwapTransaction == "" {
		return nil, fmt.Errorf("swap response missing transaction")
	}

	raw, err := base64.StdEncoding.DecodeString(parsed.SwapTransaction)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode swap transaction: %w", err))
	}

	return &SwapTransaction{
		Raw:                  raw,
		LastValidBlockHeight: parsed.LastValidBlockHeight,
	}, nil
}

func isNoRouteBody(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "could_not_find_any_route") ||
		strings.Contains(lower, "no route")
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
