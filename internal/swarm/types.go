package swarm

import (
	"errors"
	"time"

	"solana-swarm-bot/internal/venue"
)

// Action is the trade direction
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// ExecutionMode selects how the per-wallet transactions are dispatched
type ExecutionMode string

const (
	ModeAuto        ExecutionMode = ""
	ModeParallel    ExecutionMode = "parallel"
	ModeBundle      ExecutionMode = "bundle"
	ModeMultiBundle ExecutionMode = "multi-bundle"
	ModeSequential  ExecutionMode = "sequential"
)

// TradeIntent is one logical trade across the wallet pool.
//
// Exactly one amount field applies: SolPerWallet for buys, and either
// TokenAmount or Percent for sells. Percent is only valid for sells.
type TradeIntent struct {
	Mint   string
	Action Action

	SolPerWallet float64 // buy: SOL spent per wallet
	TokenAmount  uint64  // sell: fixed raw token amount per wallet
	Percent      float64 // sell: percentage of each wallet's position

	Wallets     []string      // optional explicit subset (wallet ids)
	Mode        ExecutionMode // optional override
	SlippageBps int           // 0 = coordinator default
	PriorityFee uint64        // lamports, 0 = coordinator default
	Venue       venue.Tag     // empty = registry default
	PoolAddress string        // optional pool hint
}

// WalletResult is the outcome for one attempted wallet
type WalletResult struct {
	WalletID    string  `json:"walletId"`
	Address     string  `json:"address"`
	Success     bool    `json:"success"`
	TxID        string  `json:"txId,omitempty"`
	SolAmount   float64 `json:"solAmount,omitempty"`
	TokenAmount uint64  `json:"tokenAmount,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// TradeResult aggregates a coordinated trade. Success means at least one
// wallet succeeded; callers needing all-or-nothing use bundle mode.
type TradeResult struct {
	Success     bool           `json:"success"`
	Results     []WalletResult `json:"results"`
	BundleIDs   []string       `json:"bundleIds,omitempty"`
	TotalSolIn  float64        `json:"totalSolIn,omitempty"`
	TotalSolOut float64        `json:"totalSolOut,omitempty"`
	Elapsed     time.Duration  `json:"elapsed"`
	Mode        ExecutionMode  `json:"mode"`
	Errors      []string       `json:"errors,omitempty"`
}

// WalletQuote is one wallet's dry-run price discovery result
type WalletQuote struct {
	WalletID     string  `json:"walletId"`
	InputAmount  uint64  `json:"inputAmount"`
	OutputAmount uint64  `json:"outputAmount"`
	PriceImpact  float64 `json:"priceImpactPct,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// QuoteBundle aggregates per-wallet quotes for an intent
type QuoteBundle struct {
	Mint        string        `json:"mint"`
	Action      Action        `json:"action"`
	Quotes      []WalletQuote `json:"quotes"`
	TotalInput  uint64        `json:"totalInput"`
	TotalOutput uint64        `json:"totalOutput"`
}

// SimulationResult estimates feasibility and cost without touching the chain
type SimulationResult struct {
	Feasible        bool           `json:"feasible"`
	Mode            ExecutionMode  `json:"mode"`
	EligibleWallets []string       `json:"eligibleWallets"`
	Dropped         []WalletResult `json:"dropped,omitempty"`
	TotalSolIn      float64        `json:"totalSolIn,omitempty"`
	EstimatedFees   uint64         `json:"estimatedFeesLamports"`
	BundleCount     int            `json:"bundleCount,omitempty"`
}

// Error taxonomy. Per-wallet errors stop at the wallet boundary; batch-level
// errors set TradeResult.Success = false.
var (
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrNoPosition        = errors.New("no position")
	ErrZeroAmount        = errors.New("zero amount")
	ErrNoWallets         = errors.New("no eligible wallets")
	ErrBuild             = errors.New("build failed")
	ErrSubmit            = errors.New("submit failed")
	ErrBundle            = errors.New("bundle failed")
	ErrConfirmTimeout    = errors.New("confirmation timeout")
)
