package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Type identifies an event category
type Type string

const (
	TradeExecuted    Type = "trade_executed"
	TradeDetected    Type = "trade_detected"
	TradeCopied      Type = "trade_copied"
	MirrorSkipped    Type = "mirror_skipped"
	StopLossFired    Type = "stop_loss_fired"
	TakeProfitFired  Type = "take_profit_fired"
	DCAExecuted      Type = "dca_executed"
	DCACompleted     Type = "dca_completed"
	DCAError         Type = "dca_error"
)

// Event is a single bus entry. Payload is event-specific.
type Event struct {
	Type    Type
	At      time.Time
	Payload interface{}
}

// Bus is a bounded fan-out channel. Subscribers are the only readers; when a
// subscriber's buffer is full the oldest entry is dropped to make room.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
	size int
}

// NewBus creates an event bus with the given per-subscriber buffer size
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{size: bufferSize}
}

// Subscribe registers a new subscriber channel
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.size)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers an event to all subscribers, dropping the oldest buffered
// entry per subscriber when full.
func (b *Bus) Publish(t Type, payload interface{}) {
	ev := Event{Type: t, At: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
				log.Debug().Str("type", string(t)).Msg("event buffer full, dropped oldest")
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
