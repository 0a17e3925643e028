package warren

import (
	"sync"

	"github.com/hay-kot/warren/internal/core/messaging"
)

// subscriberBuffer is how many messages a slow subscriber may fall behind
// before deliveries to it are dropped.
const subscriberBuffer = 64

// hub fans appended messages out to in-process subscribers. Delivery is
// best effort; subscribers recover gaps with the sequence cursor.
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan messaging.Message]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan messaging.Message]struct{})}
}

func (h *hub) subscribe(channelID string) (<-chan messaging.Message, func()) {
	ch := make(chan messaging.Message, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs[channelID] == nil {
		h.subs[channelID] = make(map[chan messaging.Message]struct{})
	}
	h.subs[channelID][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[channelID][ch]; ok {
				delete(h.subs[channelID], ch)
				if len(h.subs[channelID]) == 0 {
					delete(h.subs, channelID)
				}
				close(ch)
			}
		})
	}
	return ch, cancel
}

// publish delivers msg without blocking. It returns the number of
// subscribers that missed it.
func (h *hub) publish(msg messaging.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dropped int
	for ch := range h.subs[msg.ChannelID] {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	return dropped
}

// drop closes every subscription to one channel.
func (h *hub) drop(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[channelID] {
		close(ch)
	}
	delete(h.subs, channelID)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, subs := range h.subs {
		for ch := range subs {
			close(ch)
		}
		delete(h.subs, id)
	}
	h.closed = true
}
