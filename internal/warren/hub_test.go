package warren

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hay-kot/warren/internal/core/messaging"
)

func TestHub_DropsWhenSubscriberIsFull(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe("channel_1")
	defer cancel()

	for i := range subscriberBuffer {
		assert.Zero(t, h.publish(messaging.Message{ChannelID: "channel_1", Sequence: int64(i + 1)}))
	}
	assert.Equal(t, 1, h.publish(messaging.Message{ChannelID: "channel_1"}))

	first := <-ch
	assert.Equal(t, int64(1), first.Sequence)
}

func TestHub_OnlyMatchingChannel(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe("channel_1")
	defer cancel()

	h.publish(messaging.Message{ChannelID: "channel_2"})
	assert.Empty(t, ch)
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe("channel_1")

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
}

func TestHub_DropAndCloseAll(t *testing.T) {
	h := newHub()
	a, cancelA := h.subscribe("channel_1")
	b, cancelB := h.subscribe("channel_2")

	h.drop("channel_1")
	_, open := <-a
	assert.False(t, open)
	cancelA()

	h.closeAll()
	_, open = <-b
	assert.False(t, open)
	cancelB()

	late, _ := h.subscribe("channel_3")
	_, open = <-late
	assert.False(t, open, "subscriptions after close end immediately")
}
