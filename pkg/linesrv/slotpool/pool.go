// Package slotpool implements a fixed-capacity slot allocator backed by an
// intrusive free/occupied list.
//
// Slot indices are handed out in O(1) from a LIFO free chain and kept in an
// occupied doubly-linked list in insertion order, so every live slot can be
// enumerated without a separate set structure. The pool knows nothing about
// what a slot is used for.
package slotpool

import "sync"

// None is returned by traversal and acquisition when there is no slot.
const None = -1

// Pool is a thread-safe fixed-capacity slot allocator.
type Pool struct {
	mu        sync.Mutex
	next      []int // free chain for free slots, occupied list for occupied slots
	prev      []int // occupied list only, None for free slots
	head      int
	tail      int
	firstFree int
	count     int
}

// New creates a pool with capacity slots, all free.
func New(capacity int) *Pool {
	if capacity < 1 {
		panic("slotpool: capacity must be positive")
	}
	p := &Pool{
		next: make([]int, capacity),
		prev: make([]int, capacity),
	}
	p.reset()
	return p
}

// Reset frees every slot.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}

func (p *Pool) reset() {
	n := len(p.next)
	for i := 0; i < n; i++ {
		p.next[i] = i + 1
		p.prev[i] = None
	}
	p.next[n-1] = None
	p.firstFree = 0
	p.head = None
	p.tail = None
	p.count = 0
}

// Acquire takes a free slot and appends it to the occupied list.
// It returns None, false when the pool is full.
func (p *Pool) Acquire() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == len(p.next) {
		return None, false
	}

	pos := p.firstFree
	p.firstFree = p.next[pos]

	p.prev[pos] = p.tail
	if p.tail != None {
		p.next[p.tail] = pos
	}
	p.tail = pos
	if p.head == None {
		p.head = pos
	}
	p.next[pos] = None

	p.count++
	return pos, true
}

// Release returns an occupied slot to the free chain. Releasing a slot that
// is out of range or not occupied is a no-op that returns false.
func (p *Pool) Release(pos int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == 0 || !p.valid(pos) {
		return false
	}

	if p.prev[pos] == None {
		p.head = p.next[pos]
	} else {
		p.next[p.prev[pos]] = p.next[pos]
	}

	if p.next[pos] == None {
		p.tail = p.prev[pos]
	} else {
		p.prev[p.next[pos]] = p.prev[pos]
	}

	p.prev[pos] = None
	p.next[pos] = p.firstFree
	p.firstFree = pos

	p.count--
	return true
}

// Valid reports whether pos is currently occupied.
func (p *Pool) Valid(pos int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid(pos)
}

func (p *Pool) valid(pos int) bool {
	if pos < 0 || pos >= len(p.next) {
		return false
	}
	return pos == p.head || p.prev[pos] != None
}

// Head returns the oldest occupied slot, or None.
func (p *Pool) Head() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head
}

// Tail returns the newest occupied slot, or None.
func (p *Pool) Tail() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tail
}

// Next returns the occupied slot after pos, or None at the end of the list
// or when pos is not occupied.
func (p *Pool) Next(pos int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(pos) {
		return None
	}
	return p.next[pos]
}

// Prev returns the occupied slot before pos, or None.
func (p *Pool) Prev(pos int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(pos) {
		return None
	}
	return p.prev[pos]
}

// Count returns the number of occupied slots.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Cap returns the fixed capacity of the pool.
func (p *Pool) Cap() int {
	return len(p.next)
}

// Occupied returns a snapshot of the occupied slots in insertion order.
func (p *Pool) Occupied() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int, 0, p.count)
	for pos := p.head; pos != None; pos = p.next[pos] {
		out = append(out, pos)
	}
	return out
}
