package core

import (
	"fmt"
	"slices"
)

// OverflowPolicy decides what a full queue does with one more element.
type OverflowPolicy uint8

const (
	// OverflowAssert terminates the instance with ErrAssertion.
	OverflowAssert OverflowPolicy = iota
	// OverflowDropOldest discards the element queued longest.
	OverflowDropOldest
	// OverflowDropNewest discards the incoming element.
	OverflowDropNewest
	// OverflowError terminates the instance with ErrQueueOverflow.
	OverflowError
)

var policyNames = [...]string{"assert", "drop-oldest", "drop-newest", "error"}

func (p OverflowPolicy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return "unknown"
}

// ParseOverflowPolicy is the inverse of String.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	if i := slices.Index(policyNames[:], s); i >= 0 {
		return OverflowPolicy(i), nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", s)
}

type queued[T any] struct {
	v     T
	stamp uint64
}

// Queue is a bounded FIFO that also accepts insertion at the front. It never
// grows beyond its capacity.
type Queue[T any] struct {
	items  []queued[T]
	cap    int
	policy OverflowPolicy
	stamp  uint64
}

// NewQueue returns an empty queue. Capacities below one are raised to one.
func NewQueue[T any](capacity int, policy OverflowPolicy) *Queue[T] {
	return &Queue[T]{cap: max(capacity, 1), policy: policy}
}

// Len is the number of queued elements.
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap is the capacity.
func (q *Queue[T]) Cap() int { return q.cap }

// PushBack appends v. When the queue is full the policy applies: dropped
// reports the discarded element for the drop policies, err is
// ErrAssertion or ErrQueueOverflow for the others.
func (q *Queue[T]) PushBack(v T) (dropped *T, err error) {
	return q.push(v, false)
}

// PushFront inserts v ahead of everything queued.
func (q *Queue[T]) PushFront(v T) (dropped *T, err error) {
	return q.push(v, true)
}

func (q *Queue[T]) push(v T, front bool) (*T, error) {
	var dropped *T
	if len(q.items) >= q.cap {
		switch q.policy {
		case OverflowDropNewest:
			return &v, nil
		case OverflowDropOldest:
			i := q.oldest()
			old := q.items[i].v
			q.items = slices.Delete(q.items, i, i+1)
			dropped = &old
		case OverflowAssert:
			return nil, fmt.Errorf("%w: capacity %d", ErrAssertion, q.cap)
		default:
			return nil, fmt.Errorf("%w: capacity %d", ErrQueueOverflow, q.cap)
		}
	}
	q.stamp++
	e := queued[T]{v: v, stamp: q.stamp}
	if front {
		q.items = slices.Insert(q.items, 0, e)
	} else {
		q.items = append(q.items, e)
	}
	return dropped, nil
}

func (q *Queue[T]) oldest() int {
	best := 0
	for i, e := range q.items {
		if e.stamp < q.items[best].stamp {
			best = i
		}
	}
	return best
}

// Pop removes and returns the front element.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0].v
	q.items = q.items[1:]
	return v, true
}

// Peek returns the front element without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	return q.items[0].v, true
}

// Items returns the queued elements front to back.
func (q *Queue[T]) Items() []T {
	out := make([]T, len(q.items))
	for i, e := range q.items {
		out[i] = e.v
	}
	return out
}

// Clear empties the queue.
func (q *Queue[T]) Clear() { q.items = nil }
