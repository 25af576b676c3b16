package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// SwapBuilder routes trades through an aggregator swap API. Used for tokens
// that have graduated to open AMM pools.
type SwapBuilder struct {
	baseURL    string
	clientPool *HTTPClientPool
}

// NewSwapBuilder creates an aggregator-backed builder
func NewSwapBuilder(baseURL string, timeout time.Duration) *SwapBuilder {
	return &SwapBuilder{
		baseURL:    baseURL,
		clientPool: NewHTTPClientPool(4, timeout),
	}
}

type swapQuoteResponse struct {
	InputMint      string          `json:"inputMint"`
	InAmount       string          `json:"inAmount"`
	OutputMint     string          `json:"outputMint"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      json.RawMessage `json:"routePlan"`
}

// BuildBuy builds a SOL -> token swap transaction
func (b *SwapBuilder) BuildBuy(ctx context.Context, req BuildRequest) (string, *Quote, error) {
	return b.buildSwap(ctx, SOLMint, req.Mint, req.Lamports, req)
}

// BuildSell builds a token -> SOL swap transaction
func (b *SwapBuilder) BuildSell(ctx context.Context, req BuildRequest) (string, *Quote, error) {
	return b.buildSwap(ctx, req.Mint, SOLMint, req.TokenAmount, req)
}

// Quote runs price discovery without building a transaction
func (b *SwapBuilder) Quote(ctx context.Context, req BuildRequest) (*Quote, error) {
	inputMint, outputMint, amount := SOLMint, req.Mint, req.Lamports
	if req.TokenAmount > 0 {
		inputMint, outputMint, amount = req.Mint, SOLMint, req.TokenAmount
	}
	raw, err := b.fetchQuote(ctx, inputMint, outputMint, amount, req.SlippageBps)
	if err != nil {
		return nil, err
	}
	return toQuote(raw), nil
}

func (b *SwapBuilder) buildSwap(ctx context.Context, inputMint, outputMint string, amount uint64, req BuildRequest) (string, *Quote, error) {
	start := time.Now()

	raw, err := b.fetchQuote(ctx, inputMint, outputMint, amount, req.SlippageBps)
	if err != nil {
		return "", nil, fmt.Errorf("get quote: %w", err)
	}

	reqBody := struct {
		QuoteResponse             *swapQuoteResponse `json:"quoteResponse"`
		UserPublicKey             string             `json:"userPublicKey"`
		WrapAndUnwrapSol          bool               `json:"wrapAndUnwrapSol"`
		DynamicComputeUnitLimit   bool               `json:"dynamicComputeUnitLimit"`
		PrioritizationFeeLamports uint64             `json:"prioritizationFeeLamports"`
	}{
		QuoteResponse:             raw,
		UserPublicKey:             req.Wallet,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: req.PriorityFee,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, fmt.Errorf("marshal swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	client := b.clientPool.Get()
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", nil, fmt.Errorf("swap failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var swapResp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&swapResp); err != nil {
		return "", nil, fmt.Errorf("decode swap response: %w", err)
	}

	log.Debug().
		Dur("latency", time.Since(start)).
		Str("outAmount", raw.OutAmount).
		Msg("aggregator swap built")

	return swapResp.SwapTransaction, toQuote(raw), nil
}

func (b *SwapBuilder) fetchQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*swapQuoteResponse, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		b.baseURL, inputMint, outputMint, amount, slippageBps)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := b.clientPool.Get()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("quote failed (%d): %s", resp.StatusCode, string(body))
	}

	var quote swapQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return &quote, nil
}

func toQuote(raw *swapQuoteResponse) *Quote {
	in, _ := strconv.ParseUint(raw.InAmount, 10, 64)
	out, _ := strconv.ParseUint(raw.OutAmount, 10, 64)
	impact, _ := strconv.ParseFloat(raw.PriceImpactPct, 64)
	return &Quote{InputAmount: in, OutputAmount: out, PriceImpactPct: impact}
}
