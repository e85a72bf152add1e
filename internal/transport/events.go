package transport

import "github.com/libp2p/go-libp2p/core/peer"

// Event is delivered on Node.Events.
type Event interface {
	event()
}

// Message is a chat payload received on the room topic.
type Message struct {
	Source peer.ID // peer that forwarded it to us
	ID     string  // id computed by the message id function
	Data   []byte
}

// PeersDiscovered reports peers found on the local network.
type PeersDiscovered struct {
	Peers []peer.AddrInfo
}

// PeersExpired reports peers that stopped announcing themselves.
type PeersExpired struct {
	Peers []peer.ID
}

// ListenAddr reports a new local listen address.
type ListenAddr struct {
	Addr string
}

func (Message) event()         {}
func (PeersDiscovered) event() {}
func (PeersExpired) event()    {}
func (ListenAddr) event()      {}
