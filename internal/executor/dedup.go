package executor

import (
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Dedup suppresses repeat signals for the same symbol and direction within
// a time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // symbol|direction -> last accepted
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given window. A zero ttl disables it.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func dedupKey(sig domain.Signal) string {
	return sig.Symbol + "|" + string(sig.Direction)
}

// IsDuplicate reports whether an equivalent signal was accepted within the
// window. If not, sig is recorded and false is returned.
func (d *Dedup) IsDuplicate(sig domain.Signal) bool {
	if d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	key := dedupKey(sig)
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Forget drops sig so that it can be retried at once. Executions that fail
// before any order reaches the broker call it.
func (d *Dedup) Forget(sig domain.Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, dedupKey(sig))
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

// Len returns the number of remembered signals.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
