package board

import "sync"

// Board serializes every handler that touches its Store, so a move and an
// incoming event never interleave mid-mutation.
type Board struct {
	mu    sync.RWMutex
	store *Store
}

func New() *Board {
	return &Board{store: NewStore()}
}

func (b *Board) Update(fn func(*Store)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.store)
}

func (b *Board) View(fn func(*Store)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn(b.store)
}

func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store.Snapshot()
}
