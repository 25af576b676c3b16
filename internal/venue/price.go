package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoPrice means the venue had no usable price this tick
var ErrNoPrice = errors.New("no price available")

// PriceClient reads token prices from the venue's public coin endpoint
type PriceClient struct {
	apiURL     string
	httpClient *http.Client
}

// NewPriceClient creates a price client
func NewPriceClient(apiURL string, timeout time.Duration) *PriceClient {
	return &PriceClient{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Price returns the implied SOL-per-token price derived from the virtual
// reserves. Missing or zero fields mean no price this tick (ErrNoPrice).
func (p *PriceClient) Price(ctx context.Context, mint string) (float64, error) {
	url := fmt.Sprintf("%s/coins/%s", p.apiURL, mint)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("price fetch failed (%d): %s", resp.StatusCode, string(body))
	}

	var coin struct {
		VirtualSolReserves   uint64 `json:"virtual_sol_reserves"`
		VirtualTokenReserves uint64 `json:"virtual_token_reserves"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&coin); err != nil {
		return 0, fmt.Errorf("decode coin: %w", err)
	}

	if coin.VirtualSolReserves == 0 || coin.VirtualTokenReserves == 0 {
		return 0, ErrNoPrice
	}

	// SOL per whole token: reserves are lamports vs 6-decimal raw tokens
	return (float64(coin.VirtualSolReserves) / 1e9) / (float64(coin.VirtualTokenReserves) / 1e6), nil
}
