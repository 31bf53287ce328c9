package memory

import (
	"container/heap"
	"context"
	"sync"

	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// queue: очередь с приоритетом: сначала больший Priority, внутри приоритета FIFO.
type queue struct {
	name   string
	notify chan struct{}

	mu       sync.Mutex
	items    pending
	inFlight int
}

func newQueue(name string) *queue {
	return &queue{name: name, notify: make(chan struct{}, 1)}
}

func (q *queue) push(msg messaging.Message, seq uint64) {
	q.mu.Lock()
	heap.Push(&q.items, entry{msg: msg, seq: seq})
	q.mu.Unlock()
	q.signal()
}

func (q *queue) pop(ctx context.Context) (messaging.Message, bool) {
	for {
		if ctx.Err() != nil {
			return messaging.Message{}, false
		}

		q.mu.Lock()
		if q.items.Len() > 0 {
			e := heap.Pop(&q.items).(entry)
			q.inFlight++
			more := q.items.Len() > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return e.msg, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return messaging.Message{}, false
		case <-q.notify:
		}
	}
}

func (q *queue) done() {
	q.mu.Lock()
	q.inFlight--
	q.mu.Unlock()
}

func (q *queue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0 && q.inFlight == 0
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type entry struct {
	msg messaging.Message
	seq uint64
}

type pending []entry

func (p pending) Len() int { return len(p) }

func (p pending) Less(i, j int) bool {
	if p[i].msg.Priority != p[j].msg.Priority {
		return p[i].msg.Priority > p[j].msg.Priority
	}
	return p[i].seq < p[j].seq
}

func (p pending) Swap(i, j int) { p[i], p[j] = p[j], p[i] }

func (p *pending) Push(x any) { *p = append(*p, x.(entry)) }

func (p *pending) Pop() any {
	old := *p
	n := len(old)
	item := old[n-1]
	*p = old[:n-1]
	return item
}
