package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// TopicData is the fixed topic tag carried by every cycle message.
const TopicData = "data"

// Message is one cycle's worth of normalized readings.
type Message struct {
	Topic     string
	CycleTime time.Time
	Readings  []models.Reading
}

// Payload converts the message to its wire form.
func (m Message) Payload() models.CyclePayload {
	return models.CyclePayload{
		CycleTime: models.FormatTime(m.CycleTime),
		Readings:  m.Readings,
	}
}

// Broadcaster fans cycle messages out to any number of subscribers. Publish
// never blocks: a subscriber whose buffer is full loses that message and only
// that subscriber is affected.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Message
	nextID int
	buffer int
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int, logger *zap.Logger) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		subs:   make(map[int]chan Message),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the subscription; the channel is closed by it.
func (b *Broadcaster) Subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Message, b.buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers msg to every current subscriber without blocking.
func (b *Broadcaster) Publish(msg Message) {
	if msg.Topic == "" {
		msg.Topic = TopicData
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("subscriber lagging, message dropped",
				zap.Int("subscriber", id),
				zap.String("topic", msg.Topic))
		}
	}
}
