package journal

import "sync"

// Mailbox holds at most one undelivered snapshot. A newer snapshot
// replaces a pending one, and snapshots older than the last one taken are
// dropped, so a slow reader always catches up to the latest state.
type Mailbox struct {
	mu      sync.Mutex
	pending *Snapshot
	taken   uint64
	ready   chan struct{}
}

func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Put offers s and reports whether it was kept.
func (m *Mailbox) Put(s Snapshot) bool {
	m.mu.Lock()
	if s.Seq <= m.taken || (m.pending != nil && s.Seq <= m.pending.Seq) {
		m.mu.Unlock()
		return false
	}
	m.pending = &s
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled whenever a snapshot is waiting.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Take removes the waiting snapshot.
func (m *Mailbox) Take() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Snapshot{}, false
	}
	s := *m.pending
	m.pending = nil
	m.taken = s.Seq
	return s, true
}
