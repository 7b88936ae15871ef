package updatequeue

import (
	"context"
	"sync"
	"time"
)

// Deduper suppresses repeated deliveries of the same update within a TTL
// window. Telegram long-polling redelivers updates after crashes and
// timeouts; processing one twice would double-charge the user's turn.
type Deduper struct {
	entries map[string]time.Time
	ttl     time.Duration
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDeduper creates a Deduper and starts its expiry loop.
func NewDeduper(ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Deduper{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		ctx:     ctx,
		cancel:  cancel,
	}

	go d.cleanup()

	return d
}

// Seen marks key and reports whether it was already marked within the TTL.
func (d *Deduper) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if stamp, ok := d.entries[key]; ok && time.Since(stamp) <= d.ttl {
		return true
	}
	d.entries[key] = time.Now()
	return false
}

// Size returns the number of tracked keys.
func (d *Deduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Stop ends the expiry loop.
func (d *Deduper) Stop() {
	d.cancel()
}

// cleanup periodically removes expired keys.
func (d *Deduper) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			now := time.Now()
			for key, stamp := range d.entries {
				if now.Sub(stamp) > d.ttl {
					delete(d.entries, key)
				}
			}
			d.mu.Unlock()
		}
	}
}
