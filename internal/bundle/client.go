package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// MaxTransactions is the bundle service's per-bundle transaction cap
// (wallet transactions plus the tip transfer).
const MaxTransactions = 5

// TipAddresses is the bundle operator's fixed tip account rotation
var TipAddresses = [8]string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// Client submits atomic bundles to the block-engine endpoint. Any non-2xx
// response or JSON-RPC error object is treated as failure.
type Client struct {
	url         string
	tipLamports uint64
	httpClient  *http.Client
}

// NewClient creates a bundle client
func NewClient(url string, tipLamports uint64) *Client {
	if tipLamports == 0 {
		tipLamports = 10_000
	}
	return &Client{
		url:         url,
		tipLamports: tipLamports,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// TipLamports returns the configured tip amount
func (c *Client) TipLamports() uint64 {
	return c.tipLamports
}

// RandomTipAddress picks one tip account uniformly
func RandomTipAddress() string {
	return TipAddresses[rand.Intn(len(TipAddresses))]
}

// Ping verifies the block-engine endpoint answers JSON-RPC
func (c *Client) Ping(ctx context.Context) error {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "getTipAccounts",
		"params":  []interface{}{},
	})
	if err != nil {
		return fmt.Errorf("marshal ping request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bundle endpoint unhealthy (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SubmitBundle posts the signed transactions as one atomic bundle and returns
// the bundle id.
func (c *Client) SubmitBundle(ctx context.Context, signedTxs []string) (string, error) {
	if len(signedTxs) == 0 {
		return "", fmt.Errorf("empty bundle")
	}
	if len(signedTxs) > MaxTransactions+1 {
		return "", fmt.Errorf("bundle too large: %d transactions (max %d)", len(signedTxs), MaxTransactions+1)
	}

	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "sendBundle",
		"params":  []interface{}{signedTxs},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal bundle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("bundle submit failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var rpcResp struct {
		Result string `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("decode bundle response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", fmt.Errorf("bundle rejected (%d): %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == "" {
		return "", fmt.Errorf("bundle response missing id")
	}

	log.Info().
		Str("bundleID", rpcResp.Result).
		Int("txs", len(signedTxs)).
		Msg("bundle submitted")

	return rpcResp.Result, nil
}
