package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

const defaultSubscriberBuffer = 16

var (
	activeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_realtime_subscribers",
		Help: "Current number of connected realtime subscribers.",
	})
	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_realtime_dropped_events_total",
		Help: "Total number of realtime events dropped due to slow subscribers.",
	})
)

// Subscriber — одна подключённая сессия продавца.
type Subscriber struct {
	events chan domain.OrderEvent
}

// Events возвращает канал событий подписчика. Канал закрывается
// при отписке или остановке хаба.
func (s *Subscriber) Events() <-chan domain.OrderEvent {
	return s.events
}

// Hub раздаёт события заказов по комнатам продавцов.
// Доставка at-most-once: медленный подписчик теряет события,
// но никогда не блокирует публикацию. Источник истины — репозиторий,
// поэтому пропущенное событие восстанавливается перечитыванием заказа.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscriber]struct{}
	buffer int
	closed bool
	logger *log.Entry
}

// NewHub создаёт хаб с буфером событий на подписчика.
func NewHub(bufferSize int, logger *log.Entry) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = log.WithField("component", "realtime-hub")
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscriber]struct{}),
		buffer: bufferSize,
		logger: logger,
	}
}

// Subscribe подключает принципала к комнате продавца.
// Продавец видит только собственную комнату: подписка на чужую
// комнату отклоняется с ErrRoomForbidden ещё до создания сессии.
func (h *Hub) Subscribe(roomSellerID, principalSellerID string) (*Subscriber, error) {
	if roomSellerID == "" || principalSellerID != roomSellerID {
		return nil, domain.ErrRoomForbidden
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, domain.ErrRoomForbidden
	}

	sub := &Subscriber{events: make(chan domain.OrderEvent, h.buffer)}
	room, ok := h.rooms[roomSellerID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[roomSellerID] = room
	}
	room[sub] = struct{}{}
	activeSubscribers.Inc()

	h.logger.WithFields(log.Fields{
		"seller_id":   roomSellerID,
		"subscribers": len(room),
	}).Debug("subscriber joined room")
	return sub, nil
}

// Unsubscribe отключает сессию и закрывает её канал.
func (h *Hub) Unsubscribe(roomSellerID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomSellerID]
	if !ok {
		return
	}
	if _, ok := room[sub]; !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, roomSellerID)
	}
	close(sub.events)
	activeSubscribers.Dec()
}

// Publish рассылает событие всем сессиям комнаты продавца.
// Пустая комната — не ошибка: событие просто некому доставлять.
func (h *Hub) Publish(sellerID string, event domain.OrderEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for sub := range h.rooms[sellerID] {
		select {
		case sub.events <- event:
		default:
			// Переполненный буфер — событие отбрасывается.
			droppedEvents.Inc()
			h.logger.WithFields(log.Fields{
				"seller_id": sellerID,
				"order_id":  event.OrderID,
			}).Warn("subscriber buffer full, event dropped")
		}
	}
}

// Close отключает все сессии и запрещает новые подписки.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sellerID, room := range h.rooms {
		for sub := range room {
			close(sub.events)
			activeSubscribers.Dec()
		}
		delete(h.rooms, sellerID)
	}
}

var _ domain.StatusNotifier = (*Hub)(nil)
