package service

import (
	"sync"

	"wifi_provisioner/internal/models"
)

const subscriberBuffer = 32

// ProgressHub fans attempt events out to live subscribers. A subscriber that
// falls behind loses events rather than blocking the attempt.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[chan models.AttemptEvent]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[chan models.AttemptEvent]struct{})}
}

// Subscribe returns an event stream and a cancel func that closes it.
func (h *ProgressHub) Subscribe() (<-chan models.AttemptEvent, func()) {
	ch := make(chan models.AttemptEvent, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *ProgressHub) Publish(e models.AttemptEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
