package simnode

import (
	"sync"

	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

// broadcaster fans committed events out to channel subscribers. Slow
// subscribers drop events rather than stall commits.
type broadcaster struct {
	mu     sync.RWMutex
	sinks  map[string]map[int]chan<- ledger.EventView
	nextID int
	logger logger.Logger
}

func newBroadcaster(log logger.Logger) *broadcaster {
	return &broadcaster{
		sinks:  make(map[string]map[int]chan<- ledger.EventView),
		logger: log,
	}
}

func (b *broadcaster) add(channel string, sink chan<- ledger.EventView) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.sinks[channel] == nil {
		b.sinks[channel] = make(map[int]chan<- ledger.EventView)
	}
	b.sinks[channel][id] = sink
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.sinks[channel], id)
			if len(b.sinks[channel]) == 0 {
				delete(b.sinks, channel)
			}
			b.mu.Unlock()
		})
	}
}

func (b *broadcaster) publish(ev ledger.EventView) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sink := range b.sinks[ev.Type] {
		select {
		case sink <- ev:
		default:
			b.logger.Warn("Dropping event for slow subscriber", map[string]interface{}{
				"channel":         ev.Type,
				"sequence_number": ev.SequenceNumber,
			})
		}
	}
}

func (b *broadcaster) count(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks[channel])
}
