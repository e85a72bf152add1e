package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	manet "github.com/multiformats/go-multiaddr/net"
	"golang.org/x/sync/errgroup"

	"github.com/shbozz/locals/internal/discovery"
	"github.com/shbozz/locals/internal/protocol"
)

const (
	directTag   = "locals-direct"
	dialTimeout = 10 * time.Second
	idleGrace   = 60 * time.Second
)

type Options struct {
	Room         string
	ListenAddrs  []string
	Identity     crypto.PrivKey // nil generates a fresh key
	DiscoveryTTL time.Duration
}

// Node is a libp2p host joined to one GossipSub topic, with mDNS discovery.
// Everything it observes is delivered in order on Events.
type Node struct {
	host    host.Host
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	addrSub event.Subscription
	mdns    mdns.Service
	tracker *discovery.Tracker

	events chan Event
	cancel context.CancelFunc
	group  *errgroup.Group
}

// messageID is installed as the GossipSub message id function, so every
// node derives ids the same way.
func messageID(m *pb.Message) string {
	return protocol.MessageID(m.GetData(), time.Now())
}

func New(ctx context.Context, opts Options) (*Node, error) {
	cm, err := connmgr.NewConnManager(32, 64, connmgr.WithGracePeriod(idleGrace))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	hostOpts := []libp2p.Option{
		libp2p.ListenAddrStrings(opts.ListenAddrs...),
		libp2p.ConnectionManager(cm),
	}
	if opts.Identity != nil {
		hostOpts = append(hostOpts, libp2p.Identity(opts.Identity))
	}
	h, err := libp2p.New(hostOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithMessageIdFn(messageID),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
	)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create pubsub service: %w", err)
	}
	topic, err := ps.Join(opts.Room)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to join topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to subscribe to topic: %w", err)
	}
	addrSub, err := h.EventBus().Subscribe(new(event.EvtLocalAddressesUpdated))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to subscribe to address updates: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ttl := opts.DiscoveryTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	tracker := discovery.NewTracker(ctx, h.ID(), ttl)
	g, gctx := errgroup.WithContext(ctx)

	n := &Node{
		host:    h,
		topic:   topic,
		sub:     sub,
		addrSub: addrSub,
		mdns:    mdns.NewMdnsService(h, mdns.ServiceName, tracker),
		tracker: tracker,
		events:  make(chan Event, 32),
		cancel:  cancel,
		group:   g,
	}

	g.Go(func() error { return n.pumpMessages(gctx) })
	g.Go(func() error { return n.pumpAddrs(gctx) })
	g.Go(func() error { return n.pumpDiscovery(gctx) })
	g.Go(func() error {
		tracker.StartReaper(gctx, ttl/4)
		return nil
	})

	if err := n.mdns.Start(); err != nil {
		n.Close()
		return nil, fmt.Errorf("failed to start mDNS: %w", err)
	}

	slog.Info("Transport started", "peer", h.ID(), "room", opts.Room, "addrs", h.Addrs())
	return n, nil
}

func (n *Node) emit(ctx context.Context, ev Event) {
	select {
	case n.events <- ev:
	case <-ctx.Done():
	}
}

func (n *Node) pumpMessages(ctx context.Context) error {
	for {
		msg, err := n.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read next message: %w", err)
		}
		// our own publishes are echoed back by the subscription
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.emit(ctx, Message{Source: msg.ReceivedFrom, ID: msg.ID, Data: msg.Data})
	}
}

func (n *Node) pumpAddrs(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-n.addrSub.Out():
			if !ok {
				return nil
			}
			upd, ok := e.(event.EvtLocalAddressesUpdated)
			if !ok {
				continue
			}
			for _, a := range upd.Current {
				if a.Action == event.Added {
					n.emit(ctx, ListenAddr{Addr: a.Address.String()})
				}
			}
		}
	}
}

func (n *Node) pumpDiscovery(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case found := <-n.tracker.Found():
			n.emit(ctx, PeersDiscovered{Peers: found})
		case gone := <-n.tracker.Expired():
			n.emit(ctx, PeersExpired{Peers: gone})
		}
	}
}

// Events returns the stream of transport events.
func (n *Node) Events() <-chan Event {
	return n.events
}

// Publish broadcasts data on the room topic and returns the id the
// network will know it by.
func (n *Node) Publish(ctx context.Context, data []byte) (string, error) {
	id := protocol.MessageID(data, time.Now())
	if err := n.topic.Publish(ctx, data); err != nil {
		return id, fmt.Errorf("publish: %w", err)
	}
	return id, nil
}

// AddDirectPeer protects the connection to a discovered peer and dials it
// in the background so the gossip mesh can include it.
func (n *Node) AddDirectPeer(info peer.AddrInfo) {
	n.host.ConnManager().Protect(info.ID, directTag)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		if err := n.host.Connect(ctx, info); err != nil {
			slog.Warn("Failed to dial discovered peer", "peer", info.ID, "error", err)
		}
	}()
}

// RemoveDirectPeer drops the protection added by AddDirectPeer.
func (n *Node) RemoveDirectPeer(id peer.ID) {
	n.host.ConnManager().Unprotect(id, directTag)
}

// Connect dials a full /p2p multiaddr.
func (n *Node) Connect(ctx context.Context, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("bad peer address %q: %w", addr, err)
	}
	if err := n.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("connect %s: %w", info.ID, err)
	}
	return nil
}

// ExternalAddresses lists host addresses that other machines could reach.
func (n *Node) ExternalAddresses() []string {
	var out []string
	for _, a := range n.host.Addrs() {
		if manet.IsIPLoopback(a) || manet.IsIPUnspecified(a) {
			continue
		}
		out = append(out, a.String())
	}
	return out
}

func (n *Node) ID() peer.ID {
	return n.host.ID()
}

// Close stops discovery and the event pumps and shuts the host down.
func (n *Node) Close() error {
	n.cancel()
	if err := n.mdns.Close(); err != nil {
		slog.Warn("Failed to close mDNS", "error", err)
	}
	n.addrSub.Close()
	n.sub.Cancel()
	if err := n.group.Wait(); err != nil {
		slog.Warn("Transport pump failed", "error", err)
	}
	if err := n.topic.Close(); err != nil {
		slog.Debug("Topic close", "error", err)
	}
	return n.host.Close()
}
