package mirror

import (
	"sync"
	"time"

	"solana-swarm-bot/internal/swarm"
	"solana-swarm-bot/internal/venue"
)

// Config tunes how a target's trades are reproduced
type Config struct {
	Multiplier      float64  `json:"multiplier"`      // scale on the target's SOL amount
	MinPerTrade     float64  `json:"minPerTrade"`     // SOL floor per copied buy
	MaxPerTrade     float64  `json:"maxPerTrade"`     // SOL ceiling per copied buy
	MinTargetAmount float64  `json:"minTargetAmount"` // ignore target trades below this
	DelayMs         int      `json:"delayMs"`
	DelayVarianceMs int      `json:"delayVarianceMs"`
	CopyBuys        bool     `json:"copyBuys"`
	CopySells       bool     `json:"copySells"`
	AllowedMints    []string `json:"allowedMints,omitempty"`
	BlockedMints    []string `json:"blockedMints,omitempty"`
	DailyTradeCap   int      `json:"dailyTradeCap"`   // 0 = unlimited
	DailySolCap     float64  `json:"dailySolCap"`     // 0 = unlimited
	StopAfterLossPct float64 `json:"stopAfterLossPct"` // 0 = never

	SellFraction float64             `json:"sellFraction"` // percent of position sold per copied sell
	Mode         swarm.ExecutionMode `json:"mode,omitempty"`
	Venue        venue.Tag           `json:"venue,omitempty"`
}

// DefaultConfig returns the baseline mirror configuration
func DefaultConfig() Config {
	return Config{
		Multiplier:      1.0,
		MinPerTrade:     0.01,
		MaxPerTrade:     1.0,
		MinTargetAmount: 0.01,
		DelayMs:         500,
		DelayVarianceMs: 500,
		CopyBuys:        true,
		CopySells:       true,
		SellFraction:    100,
	}
}

// Stats accumulates outcomes for one target
type Stats struct {
	TradesCopied  int       `json:"tradesCopied"`
	TradesSkipped int       `json:"tradesSkipped"`
	SolIn         float64   `json:"solIn"`  // total SOL spent on copied buys
	SolOut        float64   `json:"solOut"` // total SOL received from copied sells
	TradesToday   int       `json:"tradesToday"`
	SolToday      float64   `json:"solToday"`
	Day           string    `json:"day"` // UTC date the Today counters belong to
	LastTradeAt   time.Time `json:"lastTradeAt,omitempty"`
}

// PnL is realized SOL out minus SOL in
func (s *Stats) PnL() float64 {
	return s.SolOut - s.SolIn
}

// Target is one watched external address
type Target struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	mu     sync.Mutex
	config Config
	stats  Stats
	subID  uint64
}

// NewTarget creates a target with the given config
func NewTarget(address, name string, cfg Config) *Target {
	return &Target{
		Address: address,
		Name:    name,
		Enabled: true,
		config:  cfg,
	}
}

// Config returns a snapshot of the target's configuration
func (t *Target) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config
}

// SetConfig replaces the target's configuration
func (t *Target) SetConfig(cfg Config) {
	t.mu.Lock()
	t.config = cfg
	t.mu.Unlock()
}

// Stats returns a snapshot of the target's stats with day counters rolled
func (t *Target) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDayLocked()
	return t.stats
}

// rollDayLocked resets the Today counters when the UTC date changes
func (t *Target) rollDayLocked() {
	today := time.Now().UTC().Format("2006-01-02")
	if t.stats.Day != today {
		t.stats.Day = today
		t.stats.TradesToday = 0
		t.stats.SolToday = 0
	}
}

// DetectedTrade is one decoded target transaction
type DetectedTrade struct {
	Target      string
	Signature   string
	Action      swarm.Action
	Mint        string
	SolAmount   float64 // absolute SOL moved by the target
	TokenAmount uint64
	Venue       venue.Tag
	Slot        uint64
}
