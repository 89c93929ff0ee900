package fanout

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"stratum/pkg/config"
	"stratum/pkg/logger"
	"stratum/pkg/metrics"
)

const defaultQueueSize = 256

// Event - событие шины с порядковым номером внутри топика
type Event struct {
	Topic       string    `json:"topic"`
	Seq         uint64    `json:"seq"`
	PublishedAt time.Time `json:"published_at"`
	Payload     any       `json:"payload"`
}

// Subscription - подписка с ограниченной очередью.
// Медленный подписчик теряет старые события, счётчик потерь
// доступен через Dropped.
type Subscription struct {
	topic string
	id    uint64
	ch    chan Event

	dropped atomic.Uint64

	bus  *Bus
	once sync.Once
}

// Events возвращает канал событий подписки.
// Канал закрывается при отписке или закрытии шины.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Topic возвращает топик подписки
func (s *Subscription) Topic() string {
	return s.topic
}

// Dropped возвращает число событий, потерянных из-за переполнения очереди
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe снимает подписку; повторные вызовы безопасны.
// Блокировка шины берётся вне once: Close закрывает каналы через
// те же once, уже держа блокировку.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
	s.once.Do(func() { close(s.ch) })
}

// Bus - in-process шина событий с best-effort доставкой.
// Публикация никогда не блокируется на медленных подписчиках;
// порядок событий сохраняется в пределах топика.
type Bus struct {
	queueSize int

	mu     sync.Mutex
	nextID uint64
	seq    map[string]uint64
	subs   map[string]map[uint64]*Subscription
	closed bool

	log *slog.Logger
}

// NewBus создаёт шину с размером очереди подписчика из конфигурации
func NewBus(cfg config.FanoutConfig) *Bus {
	queueSize := cfg.SubscriberQueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		seq:       make(map[string]uint64),
		subs:      make(map[string]map[uint64]*Subscription),
		log:       logger.WithComponent("fanout"),
	}
}

// Subscribe создаёт подписку на топик
func (b *Bus) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		topic: topic,
		id:    b.nextID,
		ch:    make(chan Event, b.queueSize),
		bus:   b,
	}
	b.nextID++

	if b.closed {
		// Шина закрыта: подписка сразу же мертва
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*Subscription)
	}
	b.subs[topic][sub.id] = sub
	return sub
}

// Publish рассылает событие всем подписчикам топика.
// При переполнении очереди подписчика вытесняется самое старое событие.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.seq[topic]++
	ev := Event{
		Topic:       topic,
		Seq:         b.seq[topic],
		PublishedAt: time.Now(),
		Payload:     payload,
	}
	metrics.Get().RecordEventPublished(topic)

	for _, sub := range b.subs[topic] {
		b.deliver(sub, ev)
	}
}

// deliver кладёт событие в очередь подписчика без блокировки
func (b *Bus) deliver(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	// Очередь полна: вытесняем старейшее событие
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
		metrics.Get().RecordEventDropped(ev.Topic, 1)
	default:
	}

	select {
	case sub.ch <- ev:
	default:
		sub.dropped.Add(1)
		metrics.Get().RecordEventDropped(ev.Topic, 1)
	}
}

// SubscriberCount возвращает число подписчиков топика
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Close закрывает шину и все подписки
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for topic, subs := range b.subs {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(b.subs, topic)
	}
	b.log.Debug("event bus closed")
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[s.topic]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(b.subs, s.topic)
		}
	}
}
