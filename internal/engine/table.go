package engine

import (
	"context"
	"sync"
	"time"

	"github.com/escrow-desk/backend/internal/models"
)

// entry wraps one live deal with its lock and scheduled work. The lock
// serializes every actor action, timer fire and poll tick touching the
// deal; nothing reads the Deal without it.
type entry struct {
	mu   sync.Mutex
	deal *models.Deal

	inactivity *time.Timer
	absolute   *time.Timer
	teardown   *time.Timer
	pollCancel context.CancelFunc

	// settleAt is set the first time a confirmed deposit is sighted;
	// confirmation waits until the poll loop sees it again after this.
	settleAt time.Time
}

func (en *entry) stopTimers() {
	if en.inactivity != nil {
		en.inactivity.Stop()
	}
	if en.absolute != nil {
		en.absolute.Stop()
	}
	if en.teardown != nil {
		en.teardown.Stop()
	}
	if en.pollCancel != nil {
		en.pollCancel()
		en.pollCancel = nil
	}
}

// Table holds the in-flight deals. Deals live in memory only; a
// completed deal is persisted by the stats sink and the entry removed.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

func (t *Table) add(id string, en *entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return ErrDealExists
	}
	t.entries[id] = en
	return nil
}

func (t *Table) get(id string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	en, ok := t.entries[id]
	return en, ok
}

func (t *Table) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns a copy of every live deal's id and status, for the
// operator surface.
func (t *Table) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.entries))
	for id, en := range t.entries {
		en.mu.Lock()
		out[id] = en.deal.Status
		en.mu.Unlock()
	}
	return out
}
