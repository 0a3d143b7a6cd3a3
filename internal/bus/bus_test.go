package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

func msgAt(sec int) Message {
	return Message{CycleTime: time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)}
}

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4, zap.NewNop())
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(msgAt(1))

	m1 := <-ch1
	m2 := <-ch2
	assert.Equal(t, TopicData, m1.Topic)
	assert.Equal(t, m1.CycleTime, m2.CycleTime)
}

func TestBroadcaster_SlowSubscriberOnlyAffectsItself(t *testing.T) {
	b := NewBroadcaster(1, zap.NewNop())
	slow, cancelSlow := b.Subscribe()
	defer cancelSlow()
	fast, cancelFast := b.Subscribe()
	defer cancelFast()

	// The slow subscriber never drains; its buffer fills after one message.
	for i := 0; i < 5; i++ {
		b.Publish(msgAt(i))
		<-fast
	}

	// Exactly one message made it into the slow buffer, the rest were dropped
	// without ever blocking Publish.
	require.Len(t, slow, 1)
}

func TestBroadcaster_CancelStopsDelivery(t *testing.T) {
	b := NewBroadcaster(4, zap.NewNop())
	ch, cancel := b.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	b.Publish(msgAt(0))
}

func TestMessagePayload_WireFormat(t *testing.T) {
	v := 4.2
	m := Message{
		CycleTime: time.Date(2026, 3, 1, 12, 0, 0, 250e6, time.UTC),
		Readings: []models.Reading{
			{ChannelID: 1, Value: &v},
			{ChannelID: 2, Value: nil},
		},
	}
	p := m.Payload()
	assert.Equal(t, "2026-03-01T12:00:00.250Z", p.CycleTime)
	require.Len(t, p.Readings, 2)
	assert.Nil(t, p.Readings[1].Value)
}
