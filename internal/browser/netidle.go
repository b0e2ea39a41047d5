package browser

import (
	"context"
	"sync"
	"time"
)

// netTracker counts in-flight requests. Network idle means nothing in flight
// for a full quiet window.
type netTracker struct {
	mu         sync.Mutex
	inflight   map[string]struct{}
	lastChange time.Time
	now        func() time.Time
}

func newNetTracker() *netTracker {
	return &netTracker{inflight: map[string]struct{}{}, lastChange: time.Now(), now: time.Now}
}

func (n *netTracker) started(id string) {
	n.mu.Lock()
	n.inflight[id] = struct{}{}
	n.lastChange = n.now()
	n.mu.Unlock()
}

func (n *netTracker) finished(id string) {
	n.mu.Lock()
	if _, ok := n.inflight[id]; ok {
		delete(n.inflight, id)
		n.lastChange = n.now()
	}
	n.mu.Unlock()
}

func (n *netTracker) idleFor() (time.Duration, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.inflight) > 0 {
		return 0, false
	}
	return n.now().Sub(n.lastChange), true
}

const (
	networkQuiet = 500 * time.Millisecond
	pollEvery    = 100 * time.Millisecond
)

// wait returns once the network has been quiet for networkQuiet.
func (n *netTracker) wait(ctx context.Context) error {
	t := time.NewTicker(pollEvery)
	defer t.Stop()
	for {
		if d, ok := n.idleFor(); ok && d >= networkQuiet {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
