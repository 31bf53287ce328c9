// Package memory реализует брокер сообщений в памяти процесса: очереди с
// приоритетом, привязку очередей к типам сообщений и воркеры с prefetch=1.
// Используется для локального запуска и сквозных тестов саги.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// ErrBusClosed возвращается при публикации в закрытую шину.
var ErrBusClosed = errors.New("memory bus is closed")

// Bus: in-memory брокер.
type Bus struct {
	deliverer *messaging.Deliverer
	logger    *log.Entry

	mu        sync.Mutex
	closed    bool
	queues    map[string]*queue
	bindings  map[events.MessageType][]*queue
	published []messaging.Message
	seq       uint64
}

// NewBus создаёт шину. deliverer применяет политику повторной доставки.
func NewBus(deliverer *messaging.Deliverer, logger *log.Entry) *Bus {
	if logger == nil {
		logger = log.WithField("component", "memory-bus")
	}
	return &Bus{
		deliverer: deliverer,
		logger:    logger,
		queues:    make(map[string]*queue),
		bindings:  make(map[events.MessageType][]*queue),
	}
}

// Bind объявляет очереди и привязывает их к типам сообщений.
// Сообщения, опубликованные до привязки, в очередь не попадают.
func (b *Bus) Bind(subs ...messaging.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range subs {
		q, ok := b.queues[sub.Queue]
		if !ok {
			q = newQueue(sub.Queue)
			b.queues[sub.Queue] = q
		}
		for _, t := range sub.Types {
			if !containsQueue(b.bindings[t], q) {
				b.bindings[t] = append(b.bindings[t], q)
			}
		}
	}
}

// Publish кладёт копию сообщения в каждую привязанную очередь.
func (b *Bus) Publish(_ context.Context, msg messaging.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	b.published = append(b.published, msg)

	targets := b.bindings[msg.Type]
	if len(targets) == 0 {
		b.logger.WithField("message_type", msg.Type).Debug("no queue bound, message dropped")
		return nil
	}
	for _, q := range targets {
		b.seq++
		copyMsg := msg
		copyMsg.Queue = q.name
		q.push(copyMsg, b.seq)
	}
	return nil
}

// Consume запускает воркеры подписок и блокируется до отмены ctx.
// После отмены новые сообщения не берутся, начатые обработки завершаются.
func (b *Bus) Consume(ctx context.Context, subs ...messaging.Subscription) error {
	b.Bind(subs...)

	var wg sync.WaitGroup
	for _, sub := range subs {
		b.mu.Lock()
		q := b.queues[sub.Queue]
		b.mu.Unlock()

		workers := sub.Workers
		if workers <= 0 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(sub messaging.Subscription) {
				defer wg.Done()
				b.work(ctx, q, sub.Handler)
			}(sub)
		}
	}

	wg.Wait()
	return nil
}

func (b *Bus) work(ctx context.Context, q *queue, handler messaging.Handler) {
	for {
		msg, ok := q.pop(ctx)
		if !ok {
			return
		}
		if err := b.deliverer.Deliver(ctx, msg, handler); err != nil {
			// Остановка прервала повторную доставку: сообщение возвращается в очередь.
			b.mu.Lock()
			b.seq++
			q.push(msg, b.seq)
			b.mu.Unlock()
		}
		q.done()
	}
}

// Published возвращает все опубликованные сообщения в порядке публикации.
func (b *Bus) Published() []messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]messaging.Message(nil), b.published...)
}

// PublishedOf возвращает опубликованные сообщения заданного типа.
func (b *Bus) PublishedOf(t events.MessageType) []messaging.Message {
	var out []messaging.Message
	for _, msg := range b.Published() {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

// Idle сообщает, что все очереди пусты и обработок нет.
func (b *Bus) Idle() bool {
	b.mu.Lock()
	queues := make([]*queue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.mu.Unlock()

	for _, q := range queues {
		if !q.idle() {
			return false
		}
	}
	return true
}

// WaitIdle ждёт, пока шина не станет пустой.
func (b *Bus) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close запрещает дальнейшую публикацию.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func containsQueue(list []*queue, q *queue) bool {
	for _, item := range list {
		if item == q {
			return true
		}
	}
	return false
}

var _ messaging.Broker = (*Bus)(nil)
