package events

import (
	"testing"
)

func TestPublishFanout(t *testing.T) {
	b := NewBus(4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Publish(TradeExecuted, "payload")

	for i, sub := range []<-chan Event{sub1, sub2} {
		select {
		case ev := <-sub:
			if ev.Type != TradeExecuted {
				t.Errorf("sub %d type = %s, want trade_executed", i, ev.Type)
			}
			if ev.Payload != "payload" {
				t.Errorf("sub %d payload = %v", i, ev.Payload)
			}
			if ev.At.IsZero() {
				t.Errorf("sub %d missing timestamp", i)
			}
		default:
			t.Errorf("sub %d received nothing", i)
		}
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	b := NewBus(2)
	sub := b.Subscribe()

	b.Publish(TradeDetected, 1)
	b.Publish(TradeDetected, 2)
	b.Publish(TradeDetected, 3) // displaces 1

	first := <-sub
	if first.Payload != 2 {
		t.Errorf("first payload = %v, want 2 after oldest dropped", first.Payload)
	}
	second := <-sub
	if second.Payload != 3 {
		t.Errorf("second payload = %v, want 3", second.Payload)
	}
	select {
	case ev := <-sub:
		t.Errorf("unexpected extra event %v", ev.Payload)
	default:
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := NewBus(0)
	// Must not block or panic
	b.Publish(DCAExecuted, nil)
}
