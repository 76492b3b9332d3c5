package scheduler

import "container/heap"

// jobQueue orders pending jobs for dequeue. Ordering key: skip-applied jobs
// first (earlier skip wins), then tier priority weight descending, then
// submission order ascending. FIFO is preserved within a tier because seq is
// a strictly increasing insertion counter.
//
// Not safe for concurrent use; the scheduler mutex guards every call.
type jobQueue struct {
	items jobHeap
	byID  map[string]*Job
}

func newJobQueue() *jobQueue {
	return &jobQueue{byID: make(map[string]*Job)}
}

func (q *jobQueue) len() int { return len(q.items) }

// push inserts the job and returns its 1-based position at insertion time.
func (q *jobQueue) push(j *Job) int {
	heap.Push(&q.items, j)
	q.byID[j.ID] = j
	return q.positionOf(j.ID)
}

// popNext removes and returns the highest-priority pending job, nil if empty.
func (q *jobQueue) popNext() *Job {
	if len(q.items) == 0 {
		return nil
	}
	j := heap.Pop(&q.items).(*Job)
	delete(q.byID, j.ID)
	return j
}

// remove takes a specific pending job out of the queue. False when the id is
// not pending (never queued, or already dequeued for processing).
func (q *jobQueue) remove(id string) bool {
	j, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, j.index)
	delete(q.byID, id)
	return true
}

// positionOf recomputes the live 1-based rank of a pending job, 0 when the id
// is not pending. O(n) scan; rank is the number of jobs that dequeue earlier
// plus one, so cancellations and skips ahead are always reflected.
func (q *jobQueue) positionOf(id string) int {
	j, ok := q.byID[id]
	if !ok {
		return 0
	}
	rank := 1
	for _, other := range q.items {
		if other != j && jobLess(other, j) {
			rank++
		}
	}
	return rank
}

// promoteToFront applies the one-shot skip: the job sorts ahead of every
// non-skipped job, behind earlier skips. skipSeq must be assigned by the
// caller before the call.
func (q *jobQueue) promoteToFront(j *Job) {
	heap.Fix(&q.items, j.index)
}

// contains reports whether the id is still pending.
func (q *jobQueue) contains(id string) bool {
	_, ok := q.byID[id]
	return ok
}

// each visits every pending job in heap (not dequeue) order.
func (q *jobQueue) each(fn func(*Job)) {
	for _, j := range q.items {
		fn(j)
	}
}

func jobLess(a, b *Job) bool {
	if a.SkipApplied != b.SkipApplied {
		return a.SkipApplied
	}
	if a.SkipApplied && b.SkipApplied {
		return a.skipSeq < b.skipSeq
	}
	if a.Tier.PriorityWeight != b.Tier.PriorityWeight {
		return a.Tier.PriorityWeight > b.Tier.PriorityWeight
	}
	return a.seq < b.seq
}

// jobHeap implements heap.Interface. Index bookkeeping mirrors the usual
// container/heap pattern so remove-by-id and promote stay O(log n).
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool { return jobLess(h[i], h[j]) }

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil // avoid memory leak
	j.index = -1   // for safety
	*h = old[:n-1]
	return j
}
