package acceptor

import (
	"sync"
	"time"
)

// pendingHandshake records one in-progress server-side handshake for a
// remote address: the client's salt, the server's own salt for this
// exchange, and when it was created (spec §3 "Pending-handshake entity").
type pendingHandshake struct {
	clientSalt uint64
	serverSalt uint64
	createdAt  time.Time
}

// pendingTable is a concurrent map keyed by remote IP supporting the
// unconditional replace (store) and atomic remove-if-matches operations
// the handshake protocol requires. It has no insert-if-absent operation;
// that one belongs to the connections table (putConnectionIfAbsent).
type pendingTable struct {
	mu sync.Mutex
	m  map[string]*pendingHandshake
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: make(map[string]*pendingHandshake)}
}

// store unconditionally replaces any prior pending entry for key (spec
// §4.4: "store ... keyed by A, replacing any prior pending entry").
func (t *pendingTable) store(key string, p *pendingHandshake) {
	t.mu.Lock()
	t.m[key] = p
	t.mu.Unlock()
}

func (t *pendingTable) load(key string) (*pendingHandshake, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[key]
	return p, ok
}

// removeIfMatches deletes key only if its current value is exactly p,
// reporting whether the removal happened. This is what makes a concurrent
// Solution/Connect race safe: only one goroutine's removal wins (spec
// §4.4: "Atomically remove the pending state; if removal fails ... drop").
func (t *pendingTable) removeIfMatches(key string, p *pendingHandshake) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.m[key]
	if !ok || cur != p {
		return false
	}
	delete(t.m, key)
	return true
}

func (t *pendingTable) clear() {
	t.mu.Lock()
	t.m = make(map[string]*pendingHandshake)
	t.mu.Unlock()
}
