package core

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is the on-disk form of a node's libp2p key.
type Identity struct {
	PeerID  string `json:"peer_id"`
	PrivKey []byte `json:"priv_key"`
}

// IdentityPath returns the identity file kept next to a room's database.
func IdentityPath(dataDir, namespace string) string {
	return filepath.Join(dataDir, namespace+".identity.json")
}

// LoadOrGenerateIdentity reads the key at path or creates and saves a new
// Ed25519 key, so the node keeps its peer id across restarts.
func LoadOrGenerateIdentity(path string) (crypto.PrivKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("failed to parse identity file: %w", err)
		}
		key, err := crypto.UnmarshalPrivateKey(id.PrivKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode identity key: %w", err)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}
	pid, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer id: %w", err)
	}

	data, err := json.MarshalIndent(Identity{PeerID: pid.String(), PrivKey: raw}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create identity dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write identity file: %w", err)
	}
	return key, nil
}
