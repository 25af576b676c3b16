package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// PumpBuilder builds trades against the pump.fun bonding curve (and its AMM
// graduation pool) via the venue's local-transaction API.
type PumpBuilder struct {
	apiURL     string
	authToken  string
	pool       string // "pump" or "pump-amm"
	clientPool *HTTPClientPool
	prices     *PriceClient
}

// NewPumpBuilder creates a builder for the given pool variant
func NewPumpBuilder(apiURL, authToken, pool string, timeout time.Duration, prices *PriceClient) *PumpBuilder {
	return &PumpBuilder{
		apiURL:     apiURL,
		authToken:  authToken,
		pool:       pool,
		clientPool: NewHTTPClientPool(4, timeout),
		prices:     prices,
	}
}

type pumpTradeRequest struct {
	PublicKey        string  `json:"publicKey"`
	Action           string  `json:"action"` // "buy" or "sell"
	Mint             string  `json:"mint"`
	Amount           uint64  `json:"amount"`
	DenominatedInSol bool    `json:"denominatedInSol"`
	Slippage         float64 `json:"slippage"`
	PriorityFee      float64 `json:"priorityFee"`
	Pool             string  `json:"pool"`
}

// BuildBuy requests an unsigned buy transaction spending req.Lamports of SOL
func (b *PumpBuilder) BuildBuy(ctx context.Context, req BuildRequest) (string, *Quote, error) {
	tx, err := b.buildTrade(ctx, "buy", req.Wallet, req.Mint, req.Lamports, true, req.SlippageBps, req.PriorityFee)
	if err != nil {
		return "", nil, err
	}

	quote, qErr := b.Quote(ctx, req)
	if qErr != nil {
		quote = nil // quote is advisory, the transaction carries its own limits
	}
	return tx, quote, nil
}

// BuildSell requests an unsigned sell transaction for req.TokenAmount tokens
func (b *PumpBuilder) BuildSell(ctx context.Context, req BuildRequest) (string, *Quote, error) {
	tx, err := b.buildTrade(ctx, "sell", req.Wallet, req.Mint, req.TokenAmount, false, req.SlippageBps, req.PriorityFee)
	if err != nil {
		return "", nil, err
	}

	quote, qErr := b.Quote(ctx, req)
	if qErr != nil {
		quote = nil
	}
	return tx, quote, nil
}

// Quote estimates output from the bonding-curve reserves
func (b *PumpBuilder) Quote(ctx context.Context, req BuildRequest) (*Quote, error) {
	price, err := b.prices.Price(ctx, req.Mint)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, ErrQuoteUnsupported
	}

	if req.Lamports > 0 {
		solIn := float64(req.Lamports) / 1e9
		tokensOut := solIn / price * 1e6
		return &Quote{InputAmount: req.Lamports, OutputAmount: uint64(tokensOut)}, nil
	}

	solOut := float64(req.TokenAmount) / 1e6 * price
	return &Quote{InputAmount: req.TokenAmount, OutputAmount: uint64(solOut * 1e9)}, nil
}

func (b *PumpBuilder) buildTrade(ctx context.Context, action, wallet, mint string, amount uint64, inSol bool, slippageBps int, priorityFee uint64) (string, error) {
	start := time.Now()

	reqBody := pumpTradeRequest{
		PublicKey:        wallet,
		Action:           action,
		Mint:             mint,
		Amount:           amount,
		DenominatedInSol: inSol,
		Slippage:         float64(slippageBps) / 100,
		PriorityFee:      float64(priorityFee) / 1e9,
		Pool:             b.pool,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal trade request: %w", err)
	}

	url := b.apiURL + "/trade-local"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}

	client := b.clientPool.Get()
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("trade build failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Transaction string `json:"transaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode trade response: %w", err)
	}
	if result.Transaction == "" {
		return "", fmt.Errorf("trade build returned empty transaction")
	}

	log.Debug().
		Str("action", action).
		Str("pool", b.pool).
		Dur("latency", time.Since(start)).
		Msg("venue trade built")

	return result.Transaction, nil
}
