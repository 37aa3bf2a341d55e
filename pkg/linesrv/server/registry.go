package server

import (
	"fmt"
	"sync"

	"github.com/tbxark/linesrv/pkg/linesrv/slotpool"
)

// Registry maps slot indices to live connections. It is sized to the slot
// pool capacity and has its own lock, taken before the pool's.
type Registry struct {
	mu    sync.RWMutex   // Protects slots
	slots []*Connection  // Slot index to connection
	pool  *slotpool.Pool // Pool the slots come from
}

// NewRegistry creates a Registry with one entry per slot of pool.
func NewRegistry(pool *slotpool.Pool) *Registry {
	return &Registry{
		slots: make([]*Connection, pool.Cap()),
		pool:  pool,
	}
}

// Bind stores conn at its slot. It fails if the slot is out of range or still
// bound to another connection.
func (r *Registry) Bind(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.pos < 0 || conn.pos >= len(r.slots) {
		return &SlotOutOfRangeError{Slot: conn.pos}
	}
	if existing := r.slots[conn.pos]; existing != nil && existing != conn {
		return &SlotInUseError{Slot: conn.pos}
	}

	r.slots[conn.pos] = conn
	return nil
}

// Get returns the connection bound to slot.
func (r *Registry) Get(slot int) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if slot < 0 || slot >= len(r.slots) {
		return nil, false
	}
	conn := r.slots[slot]
	return conn, conn != nil
}

// Release unbinds conn and returns its slot to the pool in one step, so a
// reader holding the registry lock never sees an occupied slot without its
// connection. It does nothing unless conn is still bound, and reports whether the slot
// was released.
func (r *Registry) Release(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.pos < 0 || conn.pos >= len(r.slots) || r.slots[conn.pos] != conn {
		return false
	}
	r.slots[conn.pos] = nil
	return r.pool.Release(conn.pos)
}

type SlotInUseError struct {
	Slot int
}

func (e *SlotInUseError) Error() string {
	return fmt.Sprintf("slot %d already bound to a connection", e.Slot)
}

type SlotOutOfRangeError struct {
	Slot int
}

func (e *SlotOutOfRangeError) Error() string {
	return fmt.Sprintf("slot %d out of range", e.Slot)
}
