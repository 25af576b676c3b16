package triggers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-swarm-bot/internal/events"
	"solana-swarm-bot/internal/swarm"
)

// Trader is the coordinator surface triggers submit through
type Trader interface {
	CoordinatedBuy(ctx context.Context, intent swarm.TradeIntent) *swarm.TradeResult
	CoordinatedSell(ctx context.Context, intent swarm.TradeIntent) *swarm.TradeResult
}

// PriceSource resolves a mint to its current SOL price
type PriceSource interface {
	Price(ctx context.Context, mint string) (float64, error)
}

// Scheduler owns all price triggers and DCA records. One loop polls prices
// for the union of trigger mints; each DCA record runs its own timer.
type Scheduler struct {
	trader Trader
	prices PriceSource
	bus    *events.Bus

	interval time.Duration
	// Stop-loss exits widen tight slippage to this floor so a crashing
	// market does not reject the very order meant to escape it.
	stopLossFloorBps int

	mu       sync.Mutex
	triggers map[string]*PriceTrigger
	dca      map[string]*dcaEntry
	nextID   int

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

type dcaEntry struct {
	record *DCARecord
	cancel chan struct{}
}

// NewScheduler creates a trigger scheduler polling prices at the given
// interval (default 5 s). stopLossFloorBps defaults to 1000.
func NewScheduler(trader Trader, prices PriceSource, bus *events.Bus, interval time.Duration, stopLossFloorBps int) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if stopLossFloorBps <= 0 {
		stopLossFloorBps = 1000
	}
	return &Scheduler{
		trader:           trader,
		prices:           prices,
		bus:              bus,
		interval:         interval,
		stopLossFloorBps: stopLossFloorBps,
		triggers:         make(map[string]*PriceTrigger),
		dca:              make(map[string]*dcaEntry),
		stop:             make(chan struct{}),
	}
}

// Start launches the price monitor loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.monitorLoop()
}

// Stop halts the monitor loop and all DCA timers
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })

	s.mu.Lock()
	for _, e := range s.dca {
		close(e.cancel)
	}
	s.dca = make(map[string]*dcaEntry)
	s.mu.Unlock()

	s.wg.Wait()
}

// AddStopLoss registers a one-shot stop-loss trigger
func (s *Scheduler) AddStopLoss(mint string, price, sellPercent float64, wallets []string, slippageBps int) *PriceTrigger {
	return s.addTrigger(KindStopLoss, mint, price, sellPercent, wallets, slippageBps)
}

// AddTakeProfit registers a one-shot take-profit trigger
func (s *Scheduler) AddTakeProfit(mint string, price, sellPercent float64, wallets []string, slippageBps int) *PriceTrigger {
	return s.addTrigger(KindTakeProfit, mint, price, sellPercent, wallets, slippageBps)
}

func (s *Scheduler) addTrigger(kind Kind, mint string, price, sellPercent float64, wallets []string, slippageBps int) *PriceTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t := &PriceTrigger{
		ID:          fmt.Sprintf("trigger_%d", s.nextID),
		Kind:        kind,
		Mint:        mint,
		Price:       price,
		SellPercent: sellPercent,
		Wallets:     wallets,
		SlippageBps: slippageBps,
		Enabled:     true,
		CreatedAt:   time.Now(),
	}
	s.triggers[t.ID] = t

	log.Info().
		Str("id", t.ID).
		Str("kind", string(kind)).
		Str("mint", mint).
		Float64("price", price).
		Float64("sellPercent", sellPercent).
		Msg("price trigger added")

	return t
}

// Triggers returns all trigger records
func (s *Scheduler) Triggers() []*PriceTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PriceTrigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, t)
	}
	return out
}

// RemoveTrigger deletes a trigger record
func (s *Scheduler) RemoveTrigger(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return fmt.Errorf("unknown trigger %s", id)
	}
	delete(s.triggers, id)
	return nil
}

// monitorLoop polls prices for all enabled trigger mints
func (s *Scheduler) monitorLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evaluate()
		}
	}
}

// evaluate fetches one price per referenced mint and fires matching triggers.
// A price fetch failure skips that mint until the next tick.
func (s *Scheduler) evaluate() {
	s.mu.Lock()
	mints := make(map[string][]*PriceTrigger)
	for _, t := range s.triggers {
		if t.Enabled {
			mints[t.Mint] = append(mints[t.Mint], t)
		}
	}
	s.mu.Unlock()

	if len(mints) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	for mint, ts := range mints {
		price, err := s.prices.Price(ctx, mint)
		if err != nil {
			log.Debug().Err(err).Str("mint", mint).Msg("price tick unavailable")
			continue
		}

		for _, t := range ts {
			fired := (t.Kind == KindStopLoss && price <= t.Price) ||
				(t.Kind == KindTakeProfit && price >= t.Price)
			if !fired {
				continue
			}

			s.mu.Lock()
			if !t.Enabled {
				s.mu.Unlock()
				continue
			}
			t.Enabled = false
			t.FiredAt = time.Now()
			s.mu.Unlock()

			go s.fire(t, price)
		}
	}
}

// fire executes the trigger's exit sell
func (s *Scheduler) fire(t *PriceTrigger, price float64) {
	slippage := t.SlippageBps
	if t.Kind == KindStopLoss && slippage < s.stopLossFloorBps {
		slippage = s.stopLossFloorBps
	}

	log.Info().
		Str("id", t.ID).
		Str("kind", string(t.Kind)).
		Str("mint", t.Mint).
		Float64("price", price).
		Float64("threshold", t.Price).
		Msg("price trigger fired")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res := s.trader.CoordinatedSell(ctx, swarm.TradeIntent{
		Mint:        t.Mint,
		Action:      swarm.ActionSell,
		Percent:     t.SellPercent,
		Wallets:     t.Wallets,
		SlippageBps: slippage,
		Venue:       t.Venue,
	})
	if !res.Success {
		log.Error().Strs("errors", res.Errors).Str("id", t.ID).Msg("trigger sell failed")
	}

	evType := events.StopLossFired
	if t.Kind == KindTakeProfit {
		evType = events.TakeProfitFired
	}
	s.bus.Publish(evType, map[string]interface{}{
		"trigger": t, "price": price, "result": res,
	})
}

// ScheduleDCA registers a DCA record and starts its timer
func (s *Scheduler) ScheduleDCA(mint string, amountPerInterval float64, interval time.Duration, totalIntervals int, wallets []string) (*DCARecord, error) {
	if amountPerInterval <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if totalIntervals <= 0 {
		return nil, fmt.Errorf("total intervals must be positive")
	}

	s.mu.Lock()
	s.nextID++
	rec := &DCARecord{
		ID:                fmt.Sprintf("dca_%d", s.nextID),
		Mint:              mint,
		AmountPerInterval: amountPerInterval,
		Interval:          interval,
		TotalIntervals:    totalIntervals,
		NextExecutionAt:   time.Now().Add(interval),
		Wallets:           wallets,
		Enabled:           true,
		CreatedAt:         time.Now(),
	}
	entry := &dcaEntry{record: rec, cancel: make(chan struct{})}
	s.dca[rec.ID] = entry
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runDCA(entry)

	log.Info().
		Str("id", rec.ID).
		Str("mint", mint).
		Float64("amount", amountPerInterval).
		Dur("interval", interval).
		Int("intervals", totalIntervals).
		Msg("dca scheduled")

	return rec, nil
}

// DCARecords returns all DCA records
func (s *Scheduler) DCARecords() []*DCARecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*DCARecord, 0, len(s.dca))
	for _, e := range s.dca {
		out = append(out, e.record)
	}
	return out
}

// CancelDCA stops a record's timer and removes it
func (s *Scheduler) CancelDCA(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dca[id]
	if !ok {
		return fmt.Errorf("unknown dca %s", id)
	}
	close(e.cancel)
	delete(s.dca, id)
	return nil
}

// PauseDCA stops the timer but keeps the record and its progress
func (s *Scheduler) PauseDCA(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dca[id]
	if !ok {
		return fmt.Errorf("unknown dca %s", id)
	}
	if e.record.Enabled {
		e.record.Enabled = false
	}
	return nil
}

// ResumeDCA restarts a paused record with the next tick a full interval out
func (s *Scheduler) ResumeDCA(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dca[id]
	if !ok {
		return fmt.Errorf("unknown dca %s", id)
	}
	if !e.record.Enabled {
		e.record.Enabled = true
		e.record.NextExecutionAt = time.Now().Add(e.record.Interval)
	}
	return nil
}

// runDCA is one record's timer loop
func (s *Scheduler) runDCA(e *dcaEntry) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.record.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-e.cancel:
			return
		case <-ticker.C:
			s.mu.Lock()
			enabled := e.record.Enabled
			s.mu.Unlock()
			if !enabled {
				continue
			}

			done := s.tickDCA(e.record)
			if done {
				s.mu.Lock()
				delete(s.dca, e.record.ID)
				s.mu.Unlock()
				s.bus.Publish(events.DCACompleted, e.record)
				log.Info().Str("id", e.record.ID).Msg("dca completed")
				return
			}
		}
	}
}

// tickDCA executes one interval's buy; true when the record is exhausted.
// Errors do not disable the record, the next tick retries.
func (s *Scheduler) tickDCA(rec *DCARecord) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res := s.trader.CoordinatedBuy(ctx, swarm.TradeIntent{
		Mint:         rec.Mint,
		Action:       swarm.ActionBuy,
		SolPerWallet: rec.AmountPerInterval,
		Wallets:      rec.Wallets,
		Mode:         rec.Mode,
		Venue:        rec.Venue,
	})
	if !res.Success {
		log.Warn().Strs("errors", res.Errors).Str("id", rec.ID).Msg("dca tick failed")
		s.bus.Publish(events.DCAError, map[string]interface{}{"record": rec, "errors": res.Errors})
		return false
	}

	s.mu.Lock()
	rec.CompletedIntervals++
	rec.NextExecutionAt = time.Now().Add(rec.Interval)
	completed := rec.CompletedIntervals
	s.mu.Unlock()

	s.bus.Publish(events.DCAExecuted, map[string]interface{}{"record": rec, "result": res})
	log.Info().
		Str("id", rec.ID).
		Int("completed", completed).
		Int("total", rec.TotalIntervals).
		Bool("success", res.Success).
		Msg("dca tick")

	return completed >= rec.TotalIntervals
}
