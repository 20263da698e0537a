// Package dispatch schedules AI passes over conversations: a coalescing work
// queue, a load-shedding tick governor and the verdict applier.
package dispatch

import (
	"sync"

	"github.com/leadline-io/leadline/internal/identity"
)

// Item is one unit of AI work.
type Item struct {
	TenantID string
	ID       identity.Canonical
}

// Queue is a deduplicating set of pending conversations. A conversation that
// receives ten messages between ticks still gets exactly one AI pass.
type Queue struct {
	mu    sync.Mutex
	set   map[Item]struct{}
	order []Item
}

func NewQueue() *Queue {
	return &Queue{set: make(map[Item]struct{})}
}

// Enqueue adds the pair; re-adding a pending pair is a no-op.
func (q *Queue) Enqueue(tenantID string, id identity.Canonical) {
	item := Item{TenantID: tenantID, ID: id}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.set[item]; ok {
		return
	}
	q.set[item] = struct{}{}
	q.order = append(q.order, item)
}

// Drain removes and returns up to n items in insertion order.
func (q *Queue) Drain(n int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.order) {
		n = len(q.order)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Item, n)
	copy(out, q.order[:n])
	q.order = q.order[n:]
	for _, item := range out {
		delete(q.set, item)
	}
	return out
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
