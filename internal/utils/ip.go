package utils

import (
	"net"
	"strings"
)

// GetOutboundIP prefers the outbound IP of this machine
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

// PickAddress returns the multiaddr that carries ip, falling back to the
// first address. It returns "" for an empty list.
func PickAddress(addrs []string, ip string) string {
	if len(addrs) == 0 {
		return ""
	}
	for _, a := range addrs {
		if strings.Contains(a, "/"+ip+"/") {
			return a
		}
	}
	return addrs[0]
}

// JoinAddress appends the peer id so the address can be dialed directly.
func JoinAddress(addr, peerID string) string {
	if addr == "" {
		return ""
	}
	return strings.TrimSuffix(addr, "/") + "/p2p/" + peerID
}
