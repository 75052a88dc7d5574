/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: rank.go
Description: Ranking queue for scored candidates. A binary heap ordered by total bits with
deterministic tie-breaks, used to select the best candidate and the top-K alternatives.
*/

package inference

import (
	"sync"
)

// better reports whether a ranks ahead of b: fewer total bits, then higher parse success
// ratio, then fewer model parameters, then earlier candidate order
func better(a, b *Candidate) bool {
	if a.Score.TotalBits != b.Score.TotalBits {
		return a.Score.TotalBits < b.Score.TotalBits
	}
	if a.Score.ParseSuccessRatio != b.Score.ParseSuccessRatio {
		return a.Score.ParseSuccessRatio > b.Score.ParseSuccessRatio
	}
	if pa, pb := a.Hypothesis.ParamCount(), b.Hypothesis.ParamCount(); pa != pb {
		return pa < pb
	}
	return a.Order < b.Order
}

// RankQueue is a thread-safe heap of candidates, best first
type RankQueue struct {
	heap []*Candidate
	mu   sync.RWMutex
	size int
}

// NewRankQueue creates a queue with room for n candidates
func NewRankQueue(n int) *RankQueue {
	return &RankQueue{heap: make([]*Candidate, 0, n)}
}

// Put adds a candidate
func (q *RankQueue) Put(c *Candidate) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap = append(q.heap, c)
	q.size++
	q.bubbleUp(q.size - 1)
}

// Get removes and returns the best candidate, or nil when empty
func (q *RankQueue) Get() *Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pop()
}

// Peek returns the best candidate without removing it
func (q *RankQueue) Peek() *Candidate {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.size == 0 {
		return nil
	}
	return q.heap[0]
}

// Size returns the number of queued candidates
func (q *RankQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// GetBatch removes and returns up to count candidates, best first
func (q *RankQueue) GetBatch(count int) []*Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()

	if count <= 0 || q.size == 0 {
		return nil
	}
	if count > q.size {
		count = q.size
	}

	out := make([]*Candidate, count)
	for i := range out {
		out[i] = q.pop()
	}
	return out
}

// ValidateHeap checks the heap property
func (q *RankQueue) ValidateHeap() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for i := 0; i < q.size; i++ {
		left, right := 2*i+1, 2*i+2
		if left < q.size && better(q.heap[left], q.heap[i]) {
			return false
		}
		if right < q.size && better(q.heap[right], q.heap[i]) {
			return false
		}
	}
	return true
}

func (q *RankQueue) pop() *Candidate {
	if q.size == 0 {
		return nil
	}

	root := q.heap[0]
	q.heap[0] = q.heap[q.size-1]
	q.heap = q.heap[:q.size-1]
	q.size--
	if q.size > 0 {
		q.bubbleDown(0)
	}
	return root
}

func (q *RankQueue) bubbleUp(index int) {
	for index > 0 {
		parent := (index - 1) / 2
		if !better(q.heap[index], q.heap[parent]) {
			break
		}
		q.heap[index], q.heap[parent] = q.heap[parent], q.heap[index]
		index = parent
	}
}

func (q *RankQueue) bubbleDown(index int) {
	for {
		left, right := 2*index+1, 2*index+2
		best := index

		if left < q.size && better(q.heap[left], q.heap[best]) {
			best = left
		}
		if right < q.size && better(q.heap[right], q.heap[best]) {
			best = right
		}
		if best == index {
			return
		}
		q.heap[index], q.heap[best] = q.heap[best], q.heap[index]
		index = best
	}
}
