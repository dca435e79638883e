package serve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fleet "github.com/everydev1618/agentfleet"
)

func TestBrokerPublish(t *testing.T) {
	b := NewEventBroker()
	a := b.Subscribe()
	c := b.Subscribe()
	require.NotNil(t, a)
	require.NotNil(t, c)

	b.Publish(fleet.Event{Type: fleet.EventStarted, AgentName: "andy"})

	assert.Equal(t, "andy", (<-a).AgentName)
	assert.Equal(t, "andy", (<-c).AgentName)

	b.Unsubscribe(a)
	_, ok := <-a
	assert.False(t, ok)

	// double unsubscribe is harmless
	b.Unsubscribe(a)

	b.Close()
	_, ok = <-c
	assert.False(t, ok)
}

func TestBrokerSubscriberLimit(t *testing.T) {
	b := NewEventBroker()
	defer b.Close()

	for i := 0; i < maxSubscribers; i++ {
		require.NotNil(t, b.Subscribe())
	}
	assert.Nil(t, b.Subscribe())
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewEventBroker()
	defer b.Close()

	ch := b.Subscribe()
	for i := 0; i < 100; i++ {
		b.Publish(fleet.Event{Type: fleet.EventExited})
	}
	assert.Len(t, ch, cap(ch))
}
