package alarm

import (
	"container/heap"

	"sentrynet/internal/model"
)

// queuedPayload wraps an AlarmPayload with router-internal bookkeeping
// needed for priority-then-FIFO ordering. Kept out of model.AlarmPayload
// since that type is shared and serialized outward; this is purely an
// artifact of the router's own queue.
type queuedPayload struct {
	payload model.AlarmPayload
	seq     uint64 // insertion order, tiebreaks equal priority
	index   int    // heap.Interface bookkeeping
}

// priorityQueue is a max-heap on Priority, FIFO (lowest seq first) within
// equal priority (spec.md §4.6).
type priorityQueue []*queuedPayload

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].payload.Priority != pq[j].payload.Priority {
		return pq[i].payload.Priority > pq[j].payload.Priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*queuedPayload)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityQueue)(nil)
