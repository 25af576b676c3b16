package triggers

import (
	"context"
	"sync"
	"testing"
	"time"

	"solana-swarm-bot/internal/events"
	"solana-swarm-bot/internal/swarm"
)

type fakeTrader struct {
	mu    sync.Mutex
	buys  []swarm.TradeIntent
	sells []swarm.TradeIntent
	fail  bool
}

func (f *fakeTrader) CoordinatedBuy(ctx context.Context, intent swarm.TradeIntent) *swarm.TradeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, intent)
	if f.fail {
		return &swarm.TradeResult{Success: false, Errors: []string{"no eligible wallets"}}
	}
	return &swarm.TradeResult{Success: true, Results: []swarm.WalletResult{{Success: true}}}
}

func (f *fakeTrader) CoordinatedSell(ctx context.Context, intent swarm.TradeIntent) *swarm.TradeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, intent)
	if f.fail {
		return &swarm.TradeResult{Success: false, Errors: []string{"no eligible wallets"}}
	}
	return &swarm.TradeResult{Success: true, Results: []swarm.WalletResult{{Success: true}}}
}

func (f *fakeTrader) buyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buys)
}

func (f *fakeTrader) sellCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sells)
}

func (f *fakeTrader) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

type fakePrices struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (f *fakePrices) Price(ctx context.Context, mint string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.err
}

func (f *fakePrices) set(price float64) {
	f.mu.Lock()
	f.price = price
	f.mu.Unlock()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestStopLossFiresOnce(t *testing.T) {
	trader := &fakeTrader{}
	prices := &fakePrices{price: 1.5}

	s := NewScheduler(trader, prices, events.NewBus(64), 20*time.Millisecond, 0)
	s.Start()
	defer s.Stop()

	trig := s.AddStopLoss("MintAAA", 1.0, 100, nil, 300)

	// Above threshold: nothing should fire
	time.Sleep(80 * time.Millisecond)
	if trader.sellCount() != 0 {
		t.Fatalf("fired %d sells above threshold", trader.sellCount())
	}

	prices.set(0.8)
	if !waitFor(t, 2*time.Second, func() bool { return trader.sellCount() >= 1 }) {
		t.Fatal("stop-loss never fired")
	}

	// One-shot: further ticks below threshold must not refire
	time.Sleep(100 * time.Millisecond)
	if trader.sellCount() != 1 {
		t.Errorf("fired %d sells, want exactly 1", trader.sellCount())
	}

	trader.mu.Lock()
	intent := trader.sells[0]
	trader.mu.Unlock()
	if intent.Percent != 100 {
		t.Errorf("sell percent = %f, want 100", intent.Percent)
	}
	// Stop-loss exits widen tight slippage to the floor
	if intent.SlippageBps != 1000 {
		t.Errorf("slippage = %d, want widened to 1000", intent.SlippageBps)
	}

	s.mu.Lock()
	enabled, firedAt := trig.Enabled, trig.FiredAt
	s.mu.Unlock()
	if enabled {
		t.Error("trigger still enabled after firing")
	}
	if firedAt.IsZero() {
		t.Error("FiredAt not set")
	}
}

func TestStopLossFloorConfigurable(t *testing.T) {
	trader := &fakeTrader{}
	prices := &fakePrices{price: 0.5}

	s := NewScheduler(trader, prices, events.NewBus(64), 20*time.Millisecond, 2500)
	s.Start()
	defer s.Stop()

	s.AddStopLoss("MintAAA", 1.0, 100, nil, 300)

	waitFor(t, 2*time.Second, func() bool {
		return trader.sellCount() == 1
	})

	trader.mu.Lock()
	intent := trader.sells[0]
	trader.mu.Unlock()
	if intent.SlippageBps != 2500 {
		t.Errorf("slippage = %d, want configured floor 2500", intent.SlippageBps)
	}
}

func TestTakeProfitKeepsCallerSlippage(t *testing.T) {
	trader := &fakeTrader{}
	prices := &fakePrices{price: 2.0}

	s := NewScheduler(trader, prices, events.NewBus(64), 20*time.Millisecond, 0)
	s.Start()
	defer s.Stop()

	s.AddTakeProfit("MintAAA", 1.5, 50, []string{"wallet_0"}, 300)

	if !waitFor(t, 2*time.Second, func() bool { return trader.sellCount() >= 1 }) {
		t.Fatal("take-profit never fired")
	}

	trader.mu.Lock()
	intent := trader.sells[0]
	trader.mu.Unlock()
	if intent.SlippageBps != 300 {
		t.Errorf("slippage = %d, want caller's 300", intent.SlippageBps)
	}
	if intent.Percent != 50 {
		t.Errorf("sell percent = %f, want 50", intent.Percent)
	}
	if len(intent.Wallets) != 1 || intent.Wallets[0] != "wallet_0" {
		t.Errorf("wallets = %v, want [wallet_0]", intent.Wallets)
	}
}

func TestPriceFailureSkipsTick(t *testing.T) {
	trader := &fakeTrader{}
	prices := &fakePrices{price: 0.5, err: context.DeadlineExceeded}

	s := NewScheduler(trader, prices, events.NewBus(64), 20*time.Millisecond, 0)
	s.Start()
	defer s.Stop()

	trig := s.AddStopLoss("MintAAA", 1.0, 100, nil, 0)

	time.Sleep(100 * time.Millisecond)
	if trader.sellCount() != 0 {
		t.Errorf("fired %d sells while price unavailable", trader.sellCount())
	}

	s.mu.Lock()
	enabled := trig.Enabled
	s.mu.Unlock()
	if !enabled {
		t.Error("trigger disabled without firing")
	}

	// Price returns: the next tick fires
	prices.mu.Lock()
	prices.err = nil
	prices.mu.Unlock()
	if !waitFor(t, 2*time.Second, func() bool { return trader.sellCount() == 1 }) {
		t.Error("trigger did not fire after price recovered")
	}
}

func TestRemoveTrigger(t *testing.T) {
	s := NewScheduler(&fakeTrader{}, &fakePrices{}, events.NewBus(8), time.Second, 0)

	trig := s.AddStopLoss("MintAAA", 1.0, 100, nil, 0)
	if len(s.Triggers()) != 1 {
		t.Fatalf("got %d triggers, want 1", len(s.Triggers()))
	}
	if err := s.RemoveTrigger(trig.ID); err != nil {
		t.Fatalf("RemoveTrigger: %v", err)
	}
	if len(s.Triggers()) != 0 {
		t.Error("trigger still present after removal")
	}
	if err := s.RemoveTrigger("trigger_999"); err == nil {
		t.Error("expected error for unknown trigger")
	}
}

func TestDCARunsToCompletion(t *testing.T) {
	trader := &fakeTrader{}
	s := NewScheduler(trader, &fakePrices{}, events.NewBus(64), time.Second, 0)

	rec, err := s.ScheduleDCA("MintAAA", 0.1, 20*time.Millisecond, 3, nil)
	if err != nil {
		t.Fatalf("ScheduleDCA: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(s.DCARecords()) == 0 }) {
		t.Fatal("dca never completed")
	}
	s.Stop()

	if trader.buyCount() != 3 {
		t.Errorf("executed %d buys, want 3", trader.buyCount())
	}
	if rec.CompletedIntervals != 3 {
		t.Errorf("completed intervals = %d, want 3", rec.CompletedIntervals)
	}
	trader.mu.Lock()
	amt := trader.buys[0].SolPerWallet
	trader.mu.Unlock()
	if amt != 0.1 {
		t.Errorf("buy amount = %f, want 0.1", amt)
	}
}

func TestDCAFailedTickRetries(t *testing.T) {
	trader := &fakeTrader{fail: true}
	s := NewScheduler(trader, &fakePrices{}, events.NewBus(64), time.Second, 0)

	rec, err := s.ScheduleDCA("MintAAA", 0.1, 20*time.Millisecond, 2, nil)
	if err != nil {
		t.Fatalf("ScheduleDCA: %v", err)
	}

	// Failing ticks attempt but never progress or cancel the record
	if !waitFor(t, 2*time.Second, func() bool { return trader.buyCount() >= 2 }) {
		t.Fatal("no tick attempts while failing")
	}
	if len(s.DCARecords()) != 1 {
		t.Fatal("record removed after failed ticks")
	}

	trader.setFail(false)
	if !waitFor(t, 2*time.Second, func() bool { return len(s.DCARecords()) == 0 }) {
		t.Fatal("dca never completed after recovery")
	}
	s.Stop()

	if rec.CompletedIntervals != 2 {
		t.Errorf("completed intervals = %d, want 2", rec.CompletedIntervals)
	}
}

func TestDCAPauseResume(t *testing.T) {
	trader := &fakeTrader{}
	s := NewScheduler(trader, &fakePrices{}, events.NewBus(64), time.Second, 0)
	defer s.Stop()

	rec, err := s.ScheduleDCA("MintAAA", 0.1, 20*time.Millisecond, 50, nil)
	if err != nil {
		t.Fatalf("ScheduleDCA: %v", err)
	}

	if err := s.PauseDCA(rec.ID); err != nil {
		t.Fatalf("PauseDCA: %v", err)
	}
	paused := trader.buyCount()
	time.Sleep(100 * time.Millisecond)
	if trader.buyCount() != paused {
		t.Errorf("buys advanced from %d to %d while paused", paused, trader.buyCount())
	}

	if err := s.ResumeDCA(rec.ID); err != nil {
		t.Fatalf("ResumeDCA: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return trader.buyCount() > paused }) {
		t.Error("no ticks after resume")
	}
}

func TestDCACancel(t *testing.T) {
	trader := &fakeTrader{}
	s := NewScheduler(trader, &fakePrices{}, events.NewBus(64), time.Second, 0)
	defer s.Stop()

	rec, err := s.ScheduleDCA("MintAAA", 0.1, time.Hour, 10, nil)
	if err != nil {
		t.Fatalf("ScheduleDCA: %v", err)
	}
	if err := s.CancelDCA(rec.ID); err != nil {
		t.Fatalf("CancelDCA: %v", err)
	}
	if len(s.DCARecords()) != 0 {
		t.Error("record still present after cancel")
	}
	if err := s.CancelDCA(rec.ID); err == nil {
		t.Error("expected error cancelling twice")
	}
}

func TestScheduleDCAValidation(t *testing.T) {
	s := NewScheduler(&fakeTrader{}, &fakePrices{}, events.NewBus(8), time.Second, 0)

	if _, err := s.ScheduleDCA("M", 0, time.Minute, 5, nil); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := s.ScheduleDCA("M", 0.1, 0, 5, nil); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := s.ScheduleDCA("M", 0.1, time.Minute, 0, nil); err == nil {
		t.Error("expected error for zero intervals")
	}
}
