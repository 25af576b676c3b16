package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-swarm-bot/internal/blockchain"
	"solana-swarm-bot/internal/events"
	"solana-swarm-bot/internal/swarm"
)

// Trader is the coordinator surface the engine submits through
type Trader interface {
	CoordinatedBuy(ctx context.Context, intent swarm.TradeIntent) *swarm.TradeResult
	CoordinatedSell(ctx context.Context, intent swarm.TradeIntent) *swarm.TradeResult
}

// TxFetcher resolves a signature to its parsed transaction
type TxFetcher interface {
	GetTransaction(ctx context.Context, signature string) (*blockchain.ParsedTransaction, error)
}

// Subscriber delivers log notifications for an address
type Subscriber interface {
	LogsSubscribe(address string, callback func(json.RawMessage)) (uint64, error)
	Unsubscribe(method string, subID uint64) error
}

// Options bounds the engine; zero values fall back to defaults.
type Options struct {
	MaxTargets        int           // watched address cap, default 10
	DefaultMultiplier float64       // applied when a target config carries none, default 1.0
	SeenTTL           time.Duration // signature dedup window, default 5 min
}

// Engine watches target addresses and reproduces their trades across the
// wallet pool.
type Engine struct {
	trader  Trader
	fetcher TxFetcher
	ws      Subscriber
	bus     *events.Bus
	opts    Options

	targets   map[string]*Target
	targetsMu sync.RWMutex

	// signature -> first-seen time, aged out after opts.SeenTTL
	seen   map[string]time.Time
	seenMu sync.Mutex

	// signatures currently being processed; drops re-entrant notifications
	inflight   map[string]bool
	inflightMu sync.Mutex

	stop chan struct{}
	once sync.Once
}

// NewEngine creates a mirror engine
func NewEngine(trader Trader, fetcher TxFetcher, ws Subscriber, bus *events.Bus, opts Options) *Engine {
	if opts.MaxTargets <= 0 {
		opts.MaxTargets = 10
	}
	if opts.DefaultMultiplier <= 0 {
		opts.DefaultMultiplier = 1.0
	}
	if opts.SeenTTL <= 0 {
		opts.SeenTTL = 5 * time.Minute
	}
	e := &Engine{
		trader:   trader,
		fetcher:  fetcher,
		ws:       ws,
		bus:      bus,
		opts:     opts,
		targets:  make(map[string]*Target),
		seen:     make(map[string]time.Time),
		inflight: make(map[string]bool),
		stop:     make(chan struct{}),
	}
	go e.sweepSeen()
	return e
}

// Stop tears down all subscriptions and the sweep loop
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.stop) })

	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()
	for _, t := range e.targets {
		if t.subID != 0 {
			e.ws.Unsubscribe("logsUnsubscribe", t.subID)
			t.subID = 0
		}
	}
}

// AddTarget starts watching an address. Re-adding an existing address updates
// its name and config.
func (e *Engine) AddTarget(address, name string, cfg Config) (*Target, error) {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()

	if cfg.Multiplier <= 0 {
		cfg.Multiplier = e.opts.DefaultMultiplier
	}

	if t, ok := e.targets[address]; ok {
		t.Name = name
		t.SetConfig(cfg)
		return t, nil
	}
	if len(e.targets) >= e.opts.MaxTargets {
		return nil, fmt.Errorf("target limit reached (%d)", e.opts.MaxTargets)
	}

	t := NewTarget(address, name, cfg)
	subID, err := e.ws.LogsSubscribe(address, func(data json.RawMessage) {
		e.handleNotification(t, data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", address, err)
	}
	t.subID = subID
	e.targets[address] = t

	log.Info().
		Str("target", name).
		Str("address", address).
		Float64("multiplier", cfg.Multiplier).
		Msg("mirror target added")

	return t, nil
}

// RemoveTarget stops watching an address and forgets its entry
func (e *Engine) RemoveTarget(address string) error {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()

	t, ok := e.targets[address]
	if !ok {
		return fmt.Errorf("unknown target %s", address)
	}
	if t.subID != 0 {
		e.ws.Unsubscribe("logsUnsubscribe", t.subID)
	}
	delete(e.targets, address)

	log.Info().Str("target", t.Name).Msg("mirror target removed")
	return nil
}

// SetEnabled toggles a target. Disabling drops the subscription but keeps the
// entry and its stats; enabling resubscribes.
func (e *Engine) SetEnabled(address string, enabled bool) error {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()

	t, ok := e.targets[address]
	if !ok {
		return fmt.Errorf("unknown target %s", address)
	}
	if t.Enabled == enabled {
		return nil
	}

	if enabled {
		subID, err := e.ws.LogsSubscribe(address, func(data json.RawMessage) {
			e.handleNotification(t, data)
		})
		if err != nil {
			return fmt.Errorf("resubscribe %s: %w", address, err)
		}
		t.subID = subID
	} else if t.subID != 0 {
		e.ws.Unsubscribe("logsUnsubscribe", t.subID)
		t.subID = 0
	}
	t.Enabled = enabled
	return nil
}

// Targets returns all registered targets
func (e *Engine) Targets() []*Target {
	e.targetsMu.RLock()
	defer e.targetsMu.RUnlock()
	out := make([]*Target, 0, len(e.targets))
	for _, t := range e.targets {
		out = append(out, t)
	}
	return out
}

// Get returns a target by address
func (e *Engine) Get(address string) (*Target, bool) {
	e.targetsMu.RLock()
	defer e.targetsMu.RUnlock()
	t, ok := e.targets[address]
	return t, ok
}

// handleNotification is the logsSubscribe callback for one target
func (e *Engine) handleNotification(t *Target, data json.RawMessage) {
	var note struct {
		Value struct {
			Signature string      `json:"signature"`
			Err       interface{} `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &note); err != nil {
		log.Warn().Err(err).Str("target", t.Name).Msg("unparseable log notification")
		return
	}
	sig := note.Value.Signature
	if sig == "" || note.Value.Err != nil {
		return
	}

	if !e.markSeen(sig) {
		return
	}
	if !e.enterInflight(sig) {
		return
	}
	defer e.exitInflight(sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := e.fetcher.GetTransaction(ctx, sig)
	if err != nil {
		log.Info().Err(err).Str("sig", sig).Str("target", t.Name).Msg("transaction fetch failed")
		return
	}

	trade, err := decodeTrade(tx, t.Address, sig)
	if err != nil {
		if !errors.Is(err, ErrNotATrade) {
			log.Info().Err(err).Str("sig", sig).Str("target", t.Name).Msg("trade decode failed")
		}
		return
	}

	log.Info().
		Str("target", t.Name).
		Str("action", string(trade.Action)).
		Str("mint", trade.Mint).
		Float64("sol", trade.SolAmount).
		Str("venue", string(trade.Venue)).
		Msg("trade detected")
	e.bus.Publish(events.TradeDetected, trade)

	if reason := e.shouldSkip(t, trade); reason != "" {
		log.Info().Str("target", t.Name).Str("reason", reason).Msg("mirror skipped")
		t.mu.Lock()
		t.stats.TradesSkipped++
		t.mu.Unlock()
		e.bus.Publish(events.MirrorSkipped, map[string]string{
			"target": t.Address, "signature": sig, "reason": reason,
		})
		return
	}

	e.copyTrade(t, trade)
}

// markSeen records the signature; false when already present within the TTL
func (e *Engine) markSeen(sig string) bool {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	if at, ok := e.seen[sig]; ok && time.Since(at) < e.opts.SeenTTL {
		return false
	}
	e.seen[sig] = time.Now()
	return true
}

func (e *Engine) enterInflight(sig string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if e.inflight[sig] {
		return false
	}
	e.inflight[sig] = true
	return true
}

func (e *Engine) exitInflight(sig string) {
	e.inflightMu.Lock()
	delete(e.inflight, sig)
	e.inflightMu.Unlock()
}

func (e *Engine) sweepSeen() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.seenMu.Lock()
			for sig, at := range e.seen {
				if time.Since(at) >= e.opts.SeenTTL {
					delete(e.seen, sig)
				}
			}
			e.seenMu.Unlock()
		}
	}
}

// shouldSkip runs the filter chain; a non-empty return is the skip reason
func (e *Engine) shouldSkip(t *Target, trade *DetectedTrade) string {
	t.mu.Lock()
	cfg := t.config
	t.rollDayLocked()
	stats := t.stats
	t.mu.Unlock()

	if trade.Action == swarm.ActionBuy && !cfg.CopyBuys {
		return "buys disabled"
	}
	if trade.Action == swarm.ActionSell && !cfg.CopySells {
		return "sells disabled"
	}
	for _, m := range cfg.BlockedMints {
		if m == trade.Mint {
			return "mint blocked"
		}
	}
	if len(cfg.AllowedMints) > 0 {
		allowed := false
		for _, m := range cfg.AllowedMints {
			if m == trade.Mint {
				allowed = true
				break
			}
		}
		if !allowed {
			return "mint not in allow list"
		}
	}
	if trade.SolAmount < cfg.MinTargetAmount {
		return "below min target amount"
	}
	if cfg.DailyTradeCap > 0 && stats.TradesToday >= cfg.DailyTradeCap {
		return "daily trade cap reached"
	}
	if cfg.DailySolCap > 0 && stats.SolToday >= cfg.DailySolCap {
		return "daily volume cap reached"
	}
	// Loss is realized only once some position has been exited; capital
	// still deployed in open buys is not a loss.
	if cfg.StopAfterLossPct > 0 && stats.SolIn > 0 && stats.SolOut > 0 {
		if pnl := stats.PnL(); pnl < 0 && math.Abs(pnl)/stats.SolIn*100 >= cfg.StopAfterLossPct {
			return "loss cutoff reached"
		}
	}
	return ""
}

// copyTrade sizes, delays, and submits the copy through the coordinator
func (e *Engine) copyTrade(t *Target, trade *DetectedTrade) {
	cfg := t.Config()

	if cfg.DelayMs > 0 || cfg.DelayVarianceMs > 0 {
		delay := time.Duration(cfg.DelayMs) * time.Millisecond
		if cfg.DelayVarianceMs > 0 {
			delay += time.Duration(rand.Intn(cfg.DelayVarianceMs+1)) * time.Millisecond
		}
		select {
		case <-e.stop:
			return
		case <-time.After(delay):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var res *swarm.TradeResult
	var copyAmount float64

	switch trade.Action {
	case swarm.ActionBuy:
		copyAmount = clamp(trade.SolAmount*cfg.Multiplier, cfg.MinPerTrade, cfg.MaxPerTrade)
		res = e.trader.CoordinatedBuy(ctx, swarm.TradeIntent{
			Mint:         trade.Mint,
			Action:       swarm.ActionBuy,
			SolPerWallet: copyAmount,
			Mode:         cfg.Mode,
			Venue:        cfg.Venue,
		})
	case swarm.ActionSell:
		fraction := cfg.SellFraction
		if fraction <= 0 || fraction > 100 {
			fraction = 100
		}
		res = e.trader.CoordinatedSell(ctx, swarm.TradeIntent{
			Mint:    trade.Mint,
			Action:  swarm.ActionSell,
			Percent: fraction,
			Mode:    cfg.Mode,
			Venue:   cfg.Venue,
		})
	}

	var solIn, solOut float64
	for _, r := range res.Results {
		if !r.Success {
			continue
		}
		if trade.Action == swarm.ActionBuy {
			solIn += r.SolAmount
		} else {
			solOut += r.SolAmount
		}
	}

	t.mu.Lock()
	t.rollDayLocked()
	if res.Success {
		t.stats.TradesCopied++
		t.stats.TradesToday++
		t.stats.SolIn += solIn
		t.stats.SolOut += solOut
		t.stats.SolToday += solIn + solOut
		t.stats.LastTradeAt = time.Now()
	} else {
		t.stats.TradesSkipped++
	}
	t.mu.Unlock()

	log.Info().
		Str("target", t.Name).
		Str("action", string(trade.Action)).
		Bool("success", res.Success).
		Float64("copyAmount", copyAmount).
		Msg("trade copied")
	e.bus.Publish(events.TradeCopied, map[string]interface{}{
		"target": t.Address, "trade": trade, "result": res,
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
