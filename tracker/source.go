package tracker

import (
	"fmt"
	"sync"

	"github.com/juju/errors"
)

var (
	ErrClosed          = fmt.Errorf("closed")
	ErrNoMessage       = fmt.Errorf("no message available")
	ErrPayloadTooLarge = fmt.Errorf("payload too large")
	ErrQueueFull       = fmt.Errorf("queue full")
	ErrReplyOverflow   = fmt.Errorf("reply overflow")
)

// Source is external producer of outbound payloads.
// TryReceive must not block for long and must be safe to call every tick.
// Returns ErrNoMessage (possibly annotated) when nothing is available,
// any other error is reported as source error.
type Source interface {
	TryReceive() ([]byte, error)
}

func IsNoMessage(err error) bool { return errors.Cause(err) == ErrNoMessage }

// MemQueue is in-process FIFO Source. Safe for concurrent producers,
// each TryReceive pops exactly one payload under lock.
type MemQueue struct {
	mu       sync.Mutex
	items    [][]byte
	limit    int
	maxItems int
}

const DefaultPayloadLimit = 1024

// NewMemQueue accepts payloads up to limit bytes; maxItems=0 means unbounded.
func NewMemQueue(limit, maxItems int) *MemQueue {
	if limit <= 0 {
		limit = DefaultPayloadLimit
	}
	return &MemQueue{limit: limit, maxItems: maxItems}
}

func (q *MemQueue) Push(b []byte) error {
	if len(b) == 0 {
		return errors.NotValidf("empty payload")
	}
	if len(b) > q.limit {
		return errors.Annotatef(ErrPayloadTooLarge, "length=%d limit=%d", len(b), q.limit)
	}
	item := make([]byte, len(b))
	copy(item, b)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxItems > 0 && len(q.items) >= q.maxItems {
		return errors.Annotatef(ErrQueueFull, "items=%d", len(q.items))
	}
	q.items = append(q.items, item)
	return nil
}

func (q *MemQueue) TryReceive() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, ErrNoMessage
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return b, nil
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
