package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"solana-swarm-bot/internal/blockchain"
	"solana-swarm-bot/internal/mirror"
	"solana-swarm-bot/internal/storage"
	"solana-swarm-bot/internal/swarm"
	"solana-swarm-bot/internal/triggers"
	"solana-swarm-bot/internal/wallet"
)

// Service is the programmatic surface over the coordinator and its
// subsystems. Every verb a front-end exposes goes through here.
type Service struct {
	coordinator   *swarm.Coordinator
	mirrors       *mirror.Engine
	scheduler     *triggers.Scheduler
	presets       *storage.PresetStore
	db            *storage.DB
	rpc           *blockchain.RPCClient
	blockhash     *blockchain.BlockhashCache
	skipPreflight bool
}

// New wires the service facade
func New(
	coordinator *swarm.Coordinator,
	mirrors *mirror.Engine,
	scheduler *triggers.Scheduler,
	presets *storage.PresetStore,
	db *storage.DB,
	rpc *blockchain.RPCClient,
	blockhash *blockchain.BlockhashCache,
	skipPreflight bool,
) *Service {
	return &Service{
		coordinator:   coordinator,
		mirrors:       mirrors,
		scheduler:     scheduler,
		presets:       presets,
		db:            db,
		rpc:           rpc,
		blockhash:     blockhash,
		skipPreflight: skipPreflight,
	}
}

// WalletInfo is a wallet snapshot for callers
type WalletInfo struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	BalanceSOL  float64   `json:"balanceSol"`
	Enabled     bool      `json:"enabled"`
	LastTradeAt time.Time `json:"lastTradeAt,omitempty"`
}

// Wallets lists the pool
func (s *Service) Wallets() []WalletInfo {
	var out []WalletInfo
	for _, w := range s.coordinator.Pool().List() {
		out = append(out, WalletInfo{
			ID:          w.ID,
			Address:     w.Address(),
			BalanceSOL:  w.BalanceSOL(),
			Enabled:     w.Enabled(),
			LastTradeAt: w.LastTradeAt(),
		})
	}
	return out
}

// EnableWallet marks a wallet eligible for trades
func (s *Service) EnableWallet(id string) error {
	return s.coordinator.Pool().Enable(id)
}

// DisableWallet removes a wallet from trade selection
func (s *Service) DisableWallet(id string) error {
	return s.coordinator.Pool().Disable(id)
}

// RefreshBalances re-fetches SOL balances for the whole pool
func (s *Service) RefreshBalances(ctx context.Context) []WalletInfo {
	s.coordinator.Pool().RefreshBalances(ctx)
	return s.Wallets()
}

// RefreshPositions re-fetches token positions for one mint
func (s *Service) RefreshPositions(ctx context.Context, mint string) *wallet.Position {
	return s.coordinator.Pool().RefreshPositions(ctx, mint)
}

// TransferResult is one funding transfer's outcome
type TransferResult struct {
	WalletID string  `json:"walletId"`
	TxID     string  `json:"txId,omitempty"`
	Amount   float64 `json:"amountSol,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// DistributeSOL sends amountSol from the primary wallet to every other
// enabled wallet, one transfer at a time.
func (s *Service) DistributeSOL(ctx context.Context, amountSol float64) ([]TransferResult, error) {
	if amountSol <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	pool := s.coordinator.Pool()
	wallets := pool.List()
	if len(wallets) < 2 {
		return nil, fmt.Errorf("nothing to distribute to")
	}
	primary := wallets[0]

	lamports := uint64(amountSol * 1e9)
	var results []TransferResult
	for _, w := range wallets[1:] {
		if !w.Enabled() {
			continue
		}
		txID, err := s.transfer(ctx, primary, w.Address(), lamports)
		r := TransferResult{WalletID: w.ID, Amount: amountSol}
		if err != nil {
			r.Error = err.Error()
		} else {
			r.TxID = txID
		}
		results = append(results, r)
	}

	pool.RefreshBalances(ctx)
	return results, nil
}

// feeReserveLamports is left behind on consolidation to cover the transfer
// fee and rent exemption.
const feeReserveLamports = 5_000_000

// ConsolidateSOL sweeps every secondary wallet's balance back to the primary
// wallet, leaving a small reserve.
func (s *Service) ConsolidateSOL(ctx context.Context) ([]TransferResult, error) {
	pool := s.coordinator.Pool()
	wallets := pool.List()
	if len(wallets) < 2 {
		return nil, fmt.Errorf("nothing to consolidate")
	}
	primary := wallets[0]

	pool.RefreshBalances(ctx)

	var results []TransferResult
	for _, w := range wallets[1:] {
		balance := w.BalanceLamports()
		if balance <= feeReserveLamports {
			continue
		}
		amount := balance - feeReserveLamports
		txID, err := s.transfer(ctx, w, primary.Address(), amount)
		r := TransferResult{WalletID: w.ID, Amount: float64(amount) / 1e9}
		if err != nil {
			r.Error = err.Error()
		} else {
			r.TxID = txID
		}
		results = append(results, r)
	}

	pool.RefreshBalances(ctx)
	return results, nil
}

// ConsolidateTokens moves every secondary wallet's holding of the mint into
// the primary wallet's token account. Wallets without a token account for the
// mint are skipped; the primary must already hold one.
func (s *Service) ConsolidateTokens(ctx context.Context, mint string) ([]TransferResult, error) {
	pool := s.coordinator.Pool()
	wallets := pool.List()
	if len(wallets) < 2 {
		return nil, fmt.Errorf("nothing to consolidate")
	}
	primary := wallets[0]

	destAccounts, err := s.rpc.GetTokenAccountsByOwner(ctx, primary.Address(), mint)
	if err != nil {
		return nil, fmt.Errorf("fetch primary token accounts: %w", err)
	}
	if len(destAccounts) == 0 {
		return nil, fmt.Errorf("primary wallet has no token account for %s", mint)
	}
	dest := destAccounts[0]

	var results []TransferResult
	for _, w := range wallets[1:] {
		accounts, err := s.rpc.GetTokenAccountsByOwner(ctx, w.Address(), mint)
		if err != nil {
			results = append(results, TransferResult{WalletID: w.ID, Error: err.Error()})
			continue
		}
		for _, acc := range accounts {
			if acc.Amount == 0 {
				continue
			}
			hash, err := s.blockhash.Get()
			if err != nil {
				results = append(results, TransferResult{WalletID: w.ID, Error: err.Error()})
				continue
			}
			tx, err := blockchain.BuildTokenTransferTransaction(
				w.Signer(), acc.Address, dest.Address, blockchain.TokenProgramID, hash, acc.Amount)
			if err != nil {
				results = append(results, TransferResult{WalletID: w.ID, Error: err.Error()})
				continue
			}
			txID, err := s.rpc.SendTransaction(ctx, tx, s.skipPreflight)
			r := TransferResult{WalletID: w.ID}
			if err != nil {
				r.Error = blockchain.HumanError(err)
			} else {
				r.TxID = txID
			}
			results = append(results, r)
		}
	}

	pool.RefreshPositions(ctx, mint)
	return results, nil
}

func (s *Service) transfer(ctx context.Context, from *wallet.Wallet, toAddress string, lamports uint64) (string, error) {
	hash, err := s.blockhash.Get()
	if err != nil {
		return "", fmt.Errorf("blockhash: %w", err)
	}
	tx, err := blockchain.BuildTransferTransaction(from.Signer(), toAddress, hash, lamports)
	if err != nil {
		return "", err
	}
	txID, err := s.rpc.SendTransaction(ctx, tx, s.skipPreflight)
	if err != nil {
		return "", fmt.Errorf("%s", blockchain.HumanError(err))
	}
	log.Info().
		Str("from", from.ID).
		Str("to", toAddress).
		Float64("sol", float64(lamports)/1e9).
		Str("tx", txID).
		Msg("transfer sent")
	return txID, nil
}

// Buy executes a coordinated buy, applying the named preset when given
func (s *Service) Buy(ctx context.Context, intent swarm.TradeIntent, preset string) (*swarm.TradeResult, error) {
	if err := s.applyPreset(&intent, preset); err != nil {
		return nil, err
	}
	return s.coordinator.CoordinatedBuy(ctx, intent), nil
}

// Sell executes a coordinated sell, applying the named preset when given
func (s *Service) Sell(ctx context.Context, intent swarm.TradeIntent, preset string) (*swarm.TradeResult, error) {
	if err := s.applyPreset(&intent, preset); err != nil {
		return nil, err
	}
	return s.coordinator.CoordinatedSell(ctx, intent), nil
}

// Quote runs dry-run price discovery
func (s *Service) Quote(ctx context.Context, intent swarm.TradeIntent) (*swarm.QuoteBundle, error) {
	return s.coordinator.CoordinatedQuote(ctx, intent)
}

// Simulate estimates feasibility and fees without touching the chain
func (s *Service) Simulate(ctx context.Context, intent swarm.TradeIntent) *swarm.SimulationResult {
	return s.coordinator.Simulate(ctx, intent)
}

// applyPreset fills the intent's zero fields from a named preset
func (s *Service) applyPreset(intent *swarm.TradeIntent, name string) error {
	if name == "" {
		return nil
	}
	p, err := s.presets.Get("default", name)
	if err != nil {
		return err
	}
	if intent.Mode == swarm.ModeAuto && p.Settings.Mode != "" {
		intent.Mode = swarm.ExecutionMode(p.Settings.Mode)
	}
	if intent.SlippageBps == 0 {
		intent.SlippageBps = p.Settings.SlippageBps
	}
	if intent.PriorityFee == 0 {
		intent.PriorityFee = p.Settings.PriorityFee
	}
	return nil
}

// AddStopLoss registers a one-shot stop-loss
func (s *Service) AddStopLoss(mint string, price, sellPercent float64, wallets []string, slippageBps int) *triggers.PriceTrigger {
	return s.scheduler.AddStopLoss(mint, price, sellPercent, wallets, slippageBps)
}

// AddTakeProfit registers a one-shot take-profit
func (s *Service) AddTakeProfit(mint string, price, sellPercent float64, wallets []string, slippageBps int) *triggers.PriceTrigger {
	return s.scheduler.AddTakeProfit(mint, price, sellPercent, wallets, slippageBps)
}

// Triggers lists price trigger records
func (s *Service) Triggers() []*triggers.PriceTrigger {
	return s.scheduler.Triggers()
}

// RemoveTrigger deletes a price trigger
func (s *Service) RemoveTrigger(id string) error {
	return s.scheduler.RemoveTrigger(id)
}

// ScheduleDCA starts a DCA plan
func (s *Service) ScheduleDCA(mint string, amountPerInterval float64, interval time.Duration, totalIntervals int, wallets []string) (*triggers.DCARecord, error) {
	return s.scheduler.ScheduleDCA(mint, amountPerInterval, interval, totalIntervals, wallets)
}

// DCARecords lists active DCA plans
func (s *Service) DCARecords() []*triggers.DCARecord {
	return s.scheduler.DCARecords()
}

// CancelDCA stops and removes a DCA plan
func (s *Service) CancelDCA(id string) error {
	return s.scheduler.CancelDCA(id)
}

// PauseDCA suspends a DCA plan, keeping its progress
func (s *Service) PauseDCA(id string) error {
	return s.scheduler.PauseDCA(id)
}

// ResumeDCA restarts a paused DCA plan
func (s *Service) ResumeDCA(id string) error {
	return s.scheduler.ResumeDCA(id)
}

// AddMirrorTarget starts mirroring an address
func (s *Service) AddMirrorTarget(address, name string, cfg mirror.Config) (*mirror.Target, error) {
	return s.mirrors.AddTarget(address, name, cfg)
}

// RemoveMirrorTarget stops mirroring an address
func (s *Service) RemoveMirrorTarget(address string) error {
	return s.mirrors.RemoveTarget(address)
}

// MirrorTargets lists watched addresses
func (s *Service) MirrorTargets() []*mirror.Target {
	return s.mirrors.Targets()
}

// SetMirrorConfig replaces a target's configuration
func (s *Service) SetMirrorConfig(address string, cfg mirror.Config) error {
	t, ok := s.mirrors.Get(address)
	if !ok {
		return fmt.Errorf("unknown target %s", address)
	}
	t.SetConfig(cfg)
	return nil
}

// SetMirrorEnabled toggles a target's subscription
func (s *Service) SetMirrorEnabled(address string, enabled bool) error {
	return s.mirrors.SetEnabled(address, enabled)
}

// MirrorStats returns a target's running stats
func (s *Service) MirrorStats(address string) (mirror.Stats, error) {
	t, ok := s.mirrors.Get(address)
	if !ok {
		return mirror.Stats{}, fmt.Errorf("unknown target %s", address)
	}
	return t.Stats(), nil
}

// SavePreset stores a named settings bundle
func (s *Service) SavePreset(name string, settings storage.PresetSettings) error {
	return s.presets.Save("default", name, settings)
}

// Presets lists built-ins and saved presets
func (s *Service) Presets() ([]*storage.Preset, error) {
	return s.presets.List("default")
}

// Preset resolves one preset by name
func (s *Service) Preset(name string) (*storage.Preset, error) {
	return s.presets.Get("default", name)
}

// DeletePreset removes a saved preset
func (s *Service) DeletePreset(name string) error {
	return s.presets.Delete("default", name)
}

// TradeHistory returns recent trade legs
func (s *Service) TradeHistory(limit int) ([]*storage.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.db.RecentTrades(limit)
}
