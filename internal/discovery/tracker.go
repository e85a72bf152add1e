package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Tracker receives mDNS announcements and turns them into found and
// expired batches. go-libp2p's mDNS service only reports arrivals, so a
// peer that has not been announced again within ttl is reaped.
type Tracker struct {
	ctx  context.Context
	self peer.ID
	ttl  time.Duration
	now  func() time.Time

	mu   sync.Mutex
	seen map[peer.ID]time.Time

	found   chan []peer.AddrInfo
	expired chan []peer.ID
}

func NewTracker(ctx context.Context, self peer.ID, ttl time.Duration) *Tracker {
	return &Tracker{
		ctx:     ctx,
		self:    self,
		ttl:     ttl,
		now:     time.Now,
		seen:    make(map[peer.ID]time.Time),
		found:   make(chan []peer.AddrInfo, 16),
		expired: make(chan []peer.ID, 16),
	}
}

func (t *Tracker) Found() <-chan []peer.AddrInfo { return t.found }
func (t *Tracker) Expired() <-chan []peer.ID     { return t.expired }

// HandlePeerFound implements mdns.Notifee. Only the first announcement of
// a peer is forwarded; later ones refresh its deadline.
func (t *Tracker) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == t.self {
		return
	}
	t.mu.Lock()
	_, known := t.seen[info.ID]
	t.seen[info.ID] = t.now()
	t.mu.Unlock()
	if known {
		return
	}

	slog.Info("Peer discovered", "peer", info.ID, "addrs", len(info.Addrs))
	select {
	case t.found <- []peer.AddrInfo{info}:
	case <-t.ctx.Done():
	}
}

// Reap forgets peers last announced more than ttl ago and returns them.
func (t *Tracker) Reap() []peer.ID {
	threshold := t.now().Add(-t.ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	var gone []peer.ID
	for id, last := range t.seen {
		if last.Before(threshold) {
			gone = append(gone, id)
			delete(t.seen, id)
		}
	}
	return gone
}

// StartReaper periodically reaps stale peers and reports them on Expired.
func (t *Tracker) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gone := t.Reap()
			if len(gone) == 0 {
				continue
			}
			slog.Info("Peers expired", "count", len(gone))
			select {
			case t.expired <- gone:
			case <-ctx.Done():
				return
			}
		}
	}
}
