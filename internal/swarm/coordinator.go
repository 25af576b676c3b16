package swarm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"solana-swarm-bot/internal/blockchain"
	"solana-swarm-bot/internal/events"
	"solana-swarm-bot/internal/venue"
	"solana-swarm-bot/internal/wallet"
)

// ChainClient is the chain RPC surface the coordinator needs
type ChainClient interface {
	SendTransaction(ctx context.Context, signedTx string, skipPreflight bool) (string, error)
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*blockchain.SignatureStatus, error)
}

// BundleClient submits atomic bundles
type BundleClient interface {
	SubmitBundle(ctx context.Context, signedTxs []string) (string, error)
	TipLamports() uint64
}

// BlockhashSource supplies a recent blockhash for locally built transactions
type BlockhashSource interface {
	Get() (string, error)
}

// TradeRecorder persists per-wallet trade history. Appends are ordered
// per wallet by the dispatch path.
type TradeRecorder interface {
	RecordTrade(walletID, mint string, action Action, solAmount float64, tokenAmount uint64, txID string)
}

// Options tunes coordinator behavior
type Options struct {
	AmountVariancePct float64
	MinReserveSol     float64
	SlippageBps       int
	PriorityFee       uint64
	StaggerDelay      time.Duration
	RateLimit         time.Duration
	ConfirmTimeout    time.Duration
	SettleDelay       time.Duration
	BundleEnabled     bool
	BundleSize        int // K: wallet transactions per bundle
	SkipPreflight     bool
}

// Coordinator is the single control point for coordinated trades. Mirror
// copies, DCA ticks, triggered exits, and direct calls all flow through it.
type Coordinator struct {
	pool      *wallet.Pool
	registry  *venue.Registry
	chain     ChainClient
	bundler   BundleClient
	blockhash BlockhashSource
	bus       *events.Bus
	recorder  TradeRecorder
	opts      Options
}

// NewCoordinator wires a coordinator. bundler may be nil when atomic bundles
// are disabled; recorder may be nil.
func NewCoordinator(
	pool *wallet.Pool,
	registry *venue.Registry,
	chain ChainClient,
	bundler BundleClient,
	blockhash BlockhashSource,
	bus *events.Bus,
	opts Options,
) *Coordinator {
	if opts.BundleSize <= 0 {
		opts.BundleSize = 5
	}
	if bundler == nil {
		opts.BundleEnabled = false
	}
	return &Coordinator{
		pool:      pool,
		registry:  registry,
		chain:     chain,
		bundler:   bundler,
		blockhash: blockhash,
		bus:       bus,
		opts:      opts,
	}
}

// SetRecorder attaches a trade history sink
func (c *Coordinator) SetRecorder(r TradeRecorder) {
	c.recorder = r
}

// Pool exposes the wallet pool for callers that manage wallets directly
func (c *Coordinator) Pool() *wallet.Pool {
	return c.pool
}

// CoordinatedBuy executes a buy intent across the pool
func (c *Coordinator) CoordinatedBuy(ctx context.Context, intent TradeIntent) *TradeResult {
	intent.Action = ActionBuy
	if intent.SolPerWallet <= 0 {
		return failResult(intent, "buy amount must be positive")
	}
	return c.run(ctx, intent)
}

// CoordinatedSell executes a sell intent across the pool
func (c *Coordinator) CoordinatedSell(ctx context.Context, intent TradeIntent) *TradeResult {
	intent.Action = ActionSell
	if intent.Percent < 0 || intent.Percent > 100 {
		return failResult(intent, fmt.Sprintf("invalid sell percent %.2f", intent.Percent))
	}
	if intent.Percent == 0 && intent.TokenAmount == 0 {
		return failResult(intent, "sell needs a token amount or percent")
	}
	return c.run(ctx, intent)
}

func (c *Coordinator) run(ctx context.Context, intent TradeIntent) *TradeResult {
	start := time.Now()

	// Pre-refresh the view the selection depends on
	if intent.Action == ActionBuy {
		c.pool.RefreshBalances(ctx)
	} else {
		c.pool.RefreshPositions(ctx, intent.Mint)
	}

	survivors, dropped, errs := c.selectWallets(intent)
	if len(survivors) == 0 {
		res := &TradeResult{
			Success: false,
			Results: dropped,
			Errors:  append(errs, ErrNoWallets.Error()),
			Mode:    intent.Mode,
			Elapsed: time.Since(start),
		}
		return res
	}

	mode := c.selectMode(intent.Mode, len(survivors))
	plans, planFailures := c.computePlans(intent, survivors)

	log.Info().
		Str("mint", intent.Mint).
		Str("action", string(intent.Action)).
		Str("mode", string(mode)).
		Int("wallets", len(plans)).
		Msg("dispatching coordinated trade")

	var results []WalletResult
	var bundleIDs []string
	switch mode {
	case ModeParallel:
		results = c.dispatchParallel(ctx, plans, intent)
	case ModeBundle:
		var bundleErrs []string
		results, bundleIDs, bundleErrs = c.dispatchBundle(ctx, plans, intent)
		errs = append(errs, bundleErrs...)
	case ModeMultiBundle:
		var bundleErrs []string
		results, bundleIDs, bundleErrs = c.dispatchMultiBundle(ctx, plans, intent)
		errs = append(errs, bundleErrs...)
	case ModeSequential:
		results = c.dispatchSequential(ctx, plans, intent)
	}

	results = append(results, planFailures...)
	results = append(results, dropped...)

	res := &TradeResult{
		Results:   results,
		BundleIDs: bundleIDs,
		Mode:      mode,
		Errors:    errs,
		Elapsed:   time.Since(start),
	}
	for _, r := range results {
		if r.Success {
			res.Success = true
			if intent.Action == ActionBuy {
				res.TotalSolIn += r.SolAmount
			} else {
				res.TotalSolOut += r.SolAmount
			}
		}
	}

	c.record(intent, results)
	c.scheduleRefresh(intent.Mint)

	if c.bus != nil {
		c.bus.Publish(events.TradeExecuted, res)
	}

	return res
}

// CoordinatedQuote runs dry-run price discovery for the intent
func (c *Coordinator) CoordinatedQuote(ctx context.Context, intent TradeIntent) (*QuoteBundle, error) {
	if intent.Action == "" {
		intent.Action = ActionBuy
	}
	builder, err := c.registry.For(intent.Venue)
	if err != nil {
		return nil, err
	}

	if intent.Action == ActionSell {
		c.pool.RefreshPositions(ctx, intent.Mint)
	}

	survivors, _, _ := c.selectWallets(intent)
	if len(survivors) == 0 {
		return nil, ErrNoWallets
	}
	plans, _ := c.computePlans(intent, survivors)

	qb := &QuoteBundle{Mint: intent.Mint, Action: intent.Action}
	for _, p := range plans {
		req := c.buildRequest(p, intent)
		quote, err := builder.Quote(ctx, req)
		wq := WalletQuote{WalletID: p.w.ID}
		if err != nil {
			wq.Error = err.Error()
		} else {
			wq.InputAmount = quote.InputAmount
			wq.OutputAmount = quote.OutputAmount
			wq.PriceImpact = quote.PriceImpactPct
			qb.TotalInput += quote.InputAmount
			qb.TotalOutput += quote.OutputAmount
		}
		qb.Quotes = append(qb.Quotes, wq)
	}
	return qb, nil
}

// Simulate estimates feasibility and cost without building transactions
func (c *Coordinator) Simulate(ctx context.Context, intent TradeIntent) *SimulationResult {
	if intent.Action == "" {
		intent.Action = ActionBuy
	}
	if intent.Action == ActionBuy {
		c.pool.RefreshBalances(ctx)
	} else {
		c.pool.RefreshPositions(ctx, intent.Mint)
	}

	survivors, dropped, _ := c.selectWallets(intent)
	sim := &SimulationResult{Dropped: dropped}
	if len(survivors) == 0 {
		return sim
	}

	sim.Feasible = true
	sim.Mode = c.selectMode(intent.Mode, len(survivors))
	for _, w := range survivors {
		sim.EligibleWallets = append(sim.EligibleWallets, w.ID)
	}
	if intent.Action == ActionBuy {
		sim.TotalSolIn = intent.SolPerWallet * float64(len(survivors))
	}

	priorityFee := intent.PriorityFee
	if priorityFee == 0 {
		priorityFee = c.opts.PriorityFee
	}
	sim.EstimatedFees = priorityFee * uint64(len(survivors))
	if sim.Mode == ModeBundle || sim.Mode == ModeMultiBundle {
		sim.BundleCount = (len(survivors) + c.opts.BundleSize - 1) / c.opts.BundleSize
		if c.bundler != nil {
			sim.EstimatedFees += c.bundler.TipLamports() * uint64(sim.BundleCount)
		}
	}
	return sim
}

// selectWallets restricts the pool to the intent's subset, then applies the
// action-specific balance gate. Dropped wallets become failed results but the
// trade proceeds with the rest.
func (c *Coordinator) selectWallets(intent TradeIntent) ([]*wallet.Wallet, []WalletResult, []string) {
	candidates := c.pool.Enabled()
	if len(intent.Wallets) > 0 {
		subset := make(map[string]bool, len(intent.Wallets))
		for _, id := range intent.Wallets {
			subset[id] = true
		}
		var filtered []*wallet.Wallet
		for _, w := range candidates {
			if subset[w.ID] {
				filtered = append(filtered, w)
			}
		}
		candidates = filtered
	}

	var survivors []*wallet.Wallet
	var dropped []WalletResult
	var errs []string

	for _, w := range candidates {
		switch intent.Action {
		case ActionBuy:
			required := intent.SolPerWallet + c.opts.MinReserveSol
			if w.BalanceSOL() < required {
				reason := fmt.Sprintf("%s: %s (have %.4f, need %.4f)", w.ID, ErrInsufficientFunds, w.BalanceSOL(), required)
				dropped = append(dropped, WalletResult{WalletID: w.ID, Address: w.Address(), Error: ErrInsufficientFunds.Error()})
				errs = append(errs, reason)
				continue
			}
		case ActionSell:
			if w.TokenBalance(intent.Mint) == 0 {
				dropped = append(dropped, WalletResult{WalletID: w.ID, Address: w.Address(), Error: ErrNoPosition.Error()})
				errs = append(errs, fmt.Sprintf("%s: %s", w.ID, ErrNoPosition))
				continue
			}
		}
		survivors = append(survivors, w)
	}

	return survivors, dropped, errs
}

// selectMode applies the auto-selection rule; a caller override always wins.
// Sequential is never auto-selected.
func (c *Coordinator) selectMode(override ExecutionMode, walletCount int) ExecutionMode {
	if override != ModeAuto {
		return override
	}
	if !c.opts.BundleEnabled || walletCount == 1 {
		return ModeParallel
	}
	if walletCount <= c.opts.BundleSize {
		return ModeBundle
	}
	return ModeMultiBundle
}

// walletPlan is one wallet's computed leg of the trade
type walletPlan struct {
	w        *wallet.Wallet
	sol      float64 // buy: SOL after jitter; sell: expected SOL proceeds
	lamports uint64
	tokens   uint64 // sell: raw token amount
}

// computePlans turns the intent into per-wallet amounts. Buys get a uniform
// jitter of +/- AmountVariancePct; percentage sells are floor(position*pct/100);
// fixed sells pass through. Zero amounts fail the wallet without an attempt.
func (c *Coordinator) computePlans(intent TradeIntent, survivors []*wallet.Wallet) ([]walletPlan, []WalletResult) {
	var plans []walletPlan
	var failures []WalletResult

	for _, w := range survivors {
		switch intent.Action {
		case ActionBuy:
			amt := intent.SolPerWallet
			if v := c.opts.AmountVariancePct; v > 0 {
				amt *= 1 + (rand.Float64()*2-1)*v/100
			}
			if amt <= 0 {
				failures = append(failures, WalletResult{WalletID: w.ID, Address: w.Address(), Error: ErrZeroAmount.Error()})
				continue
			}
			plans = append(plans, walletPlan{w: w, sol: amt, lamports: uint64(amt * 1e9)})

		case ActionSell:
			var tokens uint64
			if intent.Percent > 0 {
				position := w.TokenBalance(intent.Mint)
				tokens = uint64(math.Floor(float64(position) * intent.Percent / 100))
			} else {
				tokens = intent.TokenAmount
			}
			if tokens == 0 {
				failures = append(failures, WalletResult{WalletID: w.ID, Address: w.Address(), Error: ErrZeroAmount.Error()})
				continue
			}
			plans = append(plans, walletPlan{w: w, tokens: tokens})
		}
	}

	return plans, failures
}

func (c *Coordinator) buildRequest(p walletPlan, intent TradeIntent) venue.BuildRequest {
	slippage := intent.SlippageBps
	if slippage == 0 {
		slippage = c.opts.SlippageBps
	}
	priorityFee := intent.PriorityFee
	if priorityFee == 0 {
		priorityFee = c.opts.PriorityFee
	}
	return venue.BuildRequest{
		Wallet:      p.w.Address(),
		Mint:        intent.Mint,
		Lamports:    p.lamports,
		TokenAmount: p.tokens,
		SlippageBps: slippage,
		PriorityFee: priorityFee,
		PoolAddress: intent.PoolAddress,
	}
}

// buildAndSign asks the venue builder for one wallet's transaction and signs
// it locally with that wallet's key. Sell plans get their SOL leg filled from
// the builder's quote so results carry expected proceeds.
func (c *Coordinator) buildAndSign(ctx context.Context, p *walletPlan, intent TradeIntent) (string, error) {
	builder, err := c.registry.For(intent.Venue)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBuild, err)
	}

	req := c.buildRequest(*p, intent)

	var tx string
	var quote *venue.Quote
	if intent.Action == ActionBuy {
		tx, quote, err = builder.BuildBuy(ctx, req)
	} else {
		tx, quote, err = builder.BuildSell(ctx, req)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if intent.Action == ActionSell && quote != nil && quote.OutputAmount > 0 {
		p.sol = float64(quote.OutputAmount) / 1e9
	}

	signed, err := blockchain.SignSerializedTransaction(p.w.Signer(), tx)
	if err != nil {
		return "", fmt.Errorf("%w: sign: %v", ErrBuild, err)
	}
	return signed, nil
}

func (c *Coordinator) record(intent TradeIntent, results []WalletResult) {
	if c.recorder == nil {
		return
	}
	for _, r := range results {
		if r.Success {
			c.recorder.RecordTrade(r.WalletID, intent.Mint, intent.Action, r.SolAmount, r.TokenAmount, r.TxID)
		}
	}
}

// scheduleRefresh reconciles cached positions once confirmations have had a
// chance to land.
func (c *Coordinator) scheduleRefresh(mint string) {
	delay := c.opts.SettleDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	go func() {
		time.Sleep(delay)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		c.pool.RefreshPositions(ctx, mint)
	}()
}

func failResult(intent TradeIntent, reason string) *TradeResult {
	return &TradeResult{
		Success: false,
		Mode:    intent.Mode,
		Errors:  []string{reason},
	}
}
