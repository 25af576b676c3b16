package triggers

import (
	"time"

	"solana-swarm-bot/internal/swarm"
	"solana-swarm-bot/internal/venue"
)

// Kind distinguishes price trigger records
type Kind string

const (
	KindStopLoss   Kind = "stop_loss"
	KindTakeProfit Kind = "take_profit"
)

// PriceTrigger is a one-shot conditional exit. Stop-loss fires when the price
// drops to or below the threshold, take-profit when it rises to or above it.
type PriceTrigger struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Mint        string    `json:"mint"`
	Price       float64   `json:"price"` // SOL per token threshold
	SellPercent float64   `json:"sellPercent"`
	Wallets     []string  `json:"wallets,omitempty"` // empty = full pool
	SlippageBps int       `json:"slippageBps,omitempty"`
	Venue       venue.Tag `json:"venue,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	FiredAt     time.Time `json:"firedAt,omitempty"`
}

// DCARecord buys a fixed amount at a fixed interval until the interval budget
// is spent.
type DCARecord struct {
	ID                 string              `json:"id"`
	Mint               string              `json:"mint"`
	AmountPerInterval  float64             `json:"amountPerInterval"` // SOL per wallet per tick
	Interval           time.Duration       `json:"interval"`
	TotalIntervals     int                 `json:"totalIntervals"`
	CompletedIntervals int                 `json:"completedIntervals"`
	NextExecutionAt    time.Time           `json:"nextExecutionAt"`
	Wallets            []string            `json:"wallets,omitempty"`
	Mode               swarm.ExecutionMode `json:"mode,omitempty"`
	Venue              venue.Tag           `json:"venue,omitempty"`
	Enabled            bool                `json:"enabled"`
	CreatedAt          time.Time           `json:"createdAt"`
}
