package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-swarm-bot/internal/blockchain"
)

// Check is one dependency's latest probe result
type Check struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latencyMs"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Report is the aggregate health snapshot
type Report struct {
	Healthy bool    `json:"healthy"`
	Checks  []Check `json:"checks"`
}

// PriceProbe checks the venue price API is reachable
type PriceProbe interface {
	Price(ctx context.Context, mint string) (float64, error)
}

// BundleProbe checks the bundle endpoint is reachable
type BundleProbe interface {
	Ping(ctx context.Context) error
}

// Checker probes external dependencies on a fixed interval and caches the
// results for the health endpoint.
type Checker struct {
	rpc     *blockchain.RPCClient
	prices  PriceProbe
	bundler BundleProbe
	// a liquid mint whose price should always resolve
	probeMint string

	interval time.Duration

	mu     sync.RWMutex
	checks map[string]Check

	stop chan struct{}
	once sync.Once
}

// NewChecker creates a health checker. prices and bundler may be nil; their
// probes are skipped.
func NewChecker(rpc *blockchain.RPCClient, prices PriceProbe, probeMint string, bundler BundleProbe, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Checker{
		rpc:       rpc,
		prices:    prices,
		bundler:   bundler,
		probeMint: probeMint,
		interval:  interval,
		checks:    make(map[string]Check),
		stop:      make(chan struct{}),
	}
}

// Start launches the probe loop
func (c *Checker) Start() {
	go func() {
		c.probeAll()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.probeAll()
			}
		}
	}()
}

// Stop halts the probe loop
func (c *Checker) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Report returns the latest snapshot
func (c *Checker) Report() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	report := Report{Healthy: true}
	for _, check := range c.checks {
		report.Checks = append(report.Checks, check)
		if !check.Healthy {
			report.Healthy = false
		}
	}
	return report
}

func (c *Checker) probeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.record(c.probeRPC(ctx))
	if c.prices != nil && c.probeMint != "" {
		c.record(c.probePrices(ctx))
	}
	if c.bundler != nil {
		c.record(c.probeBundle(ctx))
	}
}

func (c *Checker) record(check Check) {
	c.mu.Lock()
	c.checks[check.Name] = check
	c.mu.Unlock()

	if !check.Healthy {
		log.Warn().Str("check", check.Name).Str("error", check.Error).Msg("health probe failed")
	}
}

func (c *Checker) probeRPC(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: "rpc", CheckedAt: start}

	_, err := c.rpc.GetLatestBlockhash(ctx)
	check.Latency = time.Since(start)
	if err != nil {
		check.Error = err.Error()
		return check
	}
	check.Healthy = true
	return check
}

func (c *Checker) probePrices(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: "price_api", CheckedAt: start}

	_, err := c.prices.Price(ctx, c.probeMint)
	check.Latency = time.Since(start)
	if err != nil {
		check.Error = err.Error()
		return check
	}
	check.Healthy = true
	return check
}

func (c *Checker) probeBundle(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: "bundle_endpoint", CheckedAt: start}

	err := c.bundler.Ping(ctx)
	check.Latency = time.Since(start)
	if err != nil {
		check.Error = err.Error()
		return check
	}
	check.Healthy = true
	return check
}
