package swarm

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-swarm-bot/internal/blockchain"
	"solana-swarm-bot/internal/bundle"
)

// dispatchParallel builds and signs all transactions concurrently, then
// submits them concurrently. Submission acceptance is what the result
// reports; confirmations are only awaited in the background.
func (c *Coordinator) dispatchParallel(ctx context.Context, plans []walletPlan, intent TradeIntent) []WalletResult {
	results := make([]WalletResult, len(plans))
	signed := make([]string, len(plans))

	var wg sync.WaitGroup
	for i := range plans {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := c.buildAndSign(ctx, &plans[i], intent)
			if err != nil {
				results[i] = failedWallet(plans[i], err)
				return
			}
			signed[i] = tx
		}(i)
	}
	wg.Wait()

	var sigs []string
	var sigsMu sync.Mutex
	for i, p := range plans {
		if signed[i] == "" {
			continue
		}
		wg.Add(1)
		go func(i int, p walletPlan, tx string) {
			defer wg.Done()
			txID, err := c.chain.SendTransaction(ctx, tx, c.opts.SkipPreflight)
			if err != nil {
				results[i] = WalletResult{
					WalletID: p.w.ID,
					Address:  p.w.Address(),
					Error:    fmt.Sprintf("%s: %s", ErrSubmit, blockchain.HumanError(err)),
				}
				return
			}
			p.w.MarkTraded(time.Now())
			results[i] = successWallet(p, txID)
			sigsMu.Lock()
			sigs = append(sigs, txID)
			sigsMu.Unlock()
		}(i, p, signed[i])
	}
	wg.Wait()

	if len(sigs) > 0 {
		go c.watchConfirmations(sigs)
	}

	return results
}

// dispatchBundle executes the plans as one atomic bundle: up to K wallet
// transactions plus a tip transfer from the first wallet. A bundle failure
// falls back to parallel for the same wallets.
func (c *Coordinator) dispatchBundle(ctx context.Context, plans []walletPlan, intent TradeIntent) ([]WalletResult, []string, []string) {
	var results []WalletResult

	// An explicit bundle override can carry more wallets than fit; the
	// overflow fails with a result per wallet rather than vanishing.
	if len(plans) > c.opts.BundleSize {
		for _, p := range plans[c.opts.BundleSize:] {
			results = append(results, failedWallet(p, fmt.Errorf("exceeds bundle capacity of %d wallets", c.opts.BundleSize)))
		}
		plans = plans[:c.opts.BundleSize]
	}

	signed := make([]string, 0, len(plans)+1)
	var bundled []walletPlan

	for i := range plans {
		tx, err := c.buildAndSign(ctx, &plans[i], intent)
		if err != nil {
			results = append(results, failedWallet(plans[i], err))
			continue
		}
		signed = append(signed, tx)
		bundled = append(bundled, plans[i])
	}

	if len(bundled) == 0 {
		return results, nil, []string{fmt.Sprintf("%s: no transactions built", ErrBundle)}
	}

	tipTx, err := c.buildTip(bundled[0])
	if err != nil {
		log.Warn().Err(err).Msg("tip build failed, falling back to parallel")
		fb := c.dispatchParallel(ctx, bundled, intent)
		return append(results, fb...), nil, []string{fmt.Sprintf("%s: tip: %v", ErrBundle, err)}
	}
	signed = append(signed, tipTx)

	bundleID, err := c.bundler.SubmitBundle(ctx, signed)
	if err != nil {
		log.Warn().Err(err).Int("wallets", len(bundled)).Msg("bundle submit failed, falling back to parallel")
		fb := c.dispatchParallel(ctx, bundled, intent)
		return append(results, fb...), nil, []string{fmt.Sprintf("%s: %v", ErrBundle, err)}
	}

	// Tentative success for every wallet in the bundle; the scheduled position
	// refresh reconciles the real outcome.
	now := time.Now()
	for _, p := range bundled {
		p.w.MarkTraded(now)
		results = append(results, successWallet(p, ""))
	}

	return results, []string{bundleID}, nil
}

// dispatchMultiBundle partitions the plans into chunks of K and executes each
// chunk as an independent bundle in parallel. A chunk's bundle failure falls
// back to parallel for that chunk only.
func (c *Coordinator) dispatchMultiBundle(ctx context.Context, plans []walletPlan, intent TradeIntent) ([]WalletResult, []string, []string) {
	k := c.opts.BundleSize
	var chunks [][]walletPlan
	for start := 0; start < len(plans); start += k {
		end := start + k
		if end > len(plans) {
			end = len(plans)
		}
		chunks = append(chunks, plans[start:end])
	}

	type chunkOutcome struct {
		results   []WalletResult
		bundleIDs []string
		errs      []string
	}
	outcomes := make([]chunkOutcome, len(chunks))

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk []walletPlan) {
			defer wg.Done()
			res, ids, errs := c.dispatchBundle(ctx, chunk, intent)
			outcomes[i] = chunkOutcome{results: res, bundleIDs: ids, errs: errs}
		}(i, chunk)
	}
	wg.Wait()

	var results []WalletResult
	var bundleIDs []string
	var errs []string
	for _, o := range outcomes {
		results = append(results, o.results...)
		bundleIDs = append(bundleIDs, o.bundleIDs...)
		errs = append(errs, o.errs...)
	}
	return results, bundleIDs, errs
}

// dispatchSequential serializes submissions in wallet order with stagger and
// per-wallet rate limiting, polling each confirmation before moving on. A
// confirmation timeout fails the wallet but keeps its signature and the loop
// continues.
func (c *Coordinator) dispatchSequential(ctx context.Context, plans []walletPlan, intent TradeIntent) []WalletResult {
	results := make([]WalletResult, 0, len(plans))

	for i := range plans {
		if i > 0 && c.opts.StaggerDelay > 0 {
			sleep := c.opts.StaggerDelay + time.Duration(rand.Int63n(int64(c.opts.StaggerDelay)))
			sleepCtx(ctx, sleep)
		}

		p := &plans[i]
		if c.opts.RateLimit > 0 {
			if since := time.Since(p.w.LastTradeAt()); since < c.opts.RateLimit {
				sleepCtx(ctx, c.opts.RateLimit-since)
			}
		}

		tx, err := c.buildAndSign(ctx, p, intent)
		if err != nil {
			results = append(results, failedWallet(*p, err))
			continue
		}

		txID, err := c.chain.SendTransaction(ctx, tx, c.opts.SkipPreflight)
		if err != nil {
			results = append(results, WalletResult{
				WalletID: p.w.ID,
				Address:  p.w.Address(),
				Error:    fmt.Sprintf("%s: %s", ErrSubmit, blockchain.HumanError(err)),
			})
			continue
		}
		p.w.MarkTraded(time.Now())

		if c.awaitConfirmation(ctx, txID) {
			results = append(results, successWallet(*p, txID))
		} else {
			// The transaction may still land; retain the signature.
			r := failedWallet(*p, ErrConfirmTimeout)
			r.TxID = txID
			results = append(results, r)
		}
	}

	return results
}

// awaitConfirmation polls signature status at a 1 s interval up to the
// configured confirmation budget.
func (c *Coordinator) awaitConfirmation(ctx context.Context, signature string) bool {
	deadline := time.Now().Add(c.opts.ConfirmTimeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		statuses, err := c.chain.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			continue
		}
		if len(statuses) == 0 || statuses[0] == nil {
			continue
		}
		st := statuses[0]
		if st.Err != nil {
			return false
		}
		if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
			return true
		}
	}
	return false
}

// watchConfirmations logs confirmation outcomes for fire-and-forget modes
func (c *Coordinator) watchConfirmations(signatures []string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	pending := make(map[string]bool, len(signatures))
	for _, s := range signatures {
		pending[s] = true
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			log.Debug().Int("unconfirmed", len(pending)).Msg("confirmation watch timed out")
			return
		case <-ticker.C:
		}

		var batch []string
		for s := range pending {
			batch = append(batch, s)
		}
		statuses, err := c.chain.GetSignatureStatuses(ctx, batch)
		if err != nil {
			continue
		}
		for i, st := range statuses {
			if st == nil {
				continue
			}
			if st.Err != nil {
				log.Warn().Str("sig", batch[i]).Msg("transaction failed on chain")
				delete(pending, batch[i])
				continue
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				delete(pending, batch[i])
			}
		}
	}
}

// buildTip creates the bundle tip transfer signed by the given wallet
func (c *Coordinator) buildTip(p walletPlan) (string, error) {
	hash, err := c.blockhash.Get()
	if err != nil {
		return "", fmt.Errorf("blockhash: %w", err)
	}
	return blockchain.BuildTransferTransaction(p.w.Signer(), bundle.RandomTipAddress(), hash, c.bundler.TipLamports())
}

func successWallet(p walletPlan, txID string) WalletResult {
	return WalletResult{
		WalletID:    p.w.ID,
		Address:     p.w.Address(),
		Success:     true,
		TxID:        txID,
		SolAmount:   p.sol,
		TokenAmount: p.tokens,
	}
}

func failedWallet(p walletPlan, err error) WalletResult {
	return WalletResult{
		WalletID: p.w.ID,
		Address:  p.w.Address(),
		Error:    err.Error(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
