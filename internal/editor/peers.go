// internal/editor/peers.go
package editor

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Peer is a frontend connected to a document and the last seq the backend
// confirmed for its actor.
type Peer struct {
	ClientID  string    `json:"clientId"`
	Actor     string    `json:"actor"`
	Seq       uint64    `json:"seq"`
	JoinedAt  time.Time `json:"joinedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PeerTracker tracks the peers of one document
type PeerTracker struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewPeerTracker creates a new peer tracker
func NewPeerTracker() *PeerTracker {
	return &PeerTracker{
		peers: make(map[string]*Peer),
	}
}

// Join records a newly connected client. actor may be empty until the
// client's first change binds it.
func (pt *PeerTracker) Join(clientID, actor string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := time.Now()
	pt.peers[clientID] = &Peer{
		ClientID:  clientID,
		Actor:     actor,
		JoinedAt:  now,
		UpdatedAt: now,
	}
}

// Confirm records that the backend accepted seq from the client's actor.
func (pt *PeerTracker) Confirm(clientID, actor string, seq uint64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	p, ok := pt.peers[clientID]
	if !ok {
		p = &Peer{ClientID: clientID, JoinedAt: time.Now()}
		pt.peers[clientID] = p
	}
	p.Actor = actor
	if seq > p.Seq {
		p.Seq = seq
	}
	p.UpdatedAt = time.Now()
}

// Leave removes a client
func (pt *PeerTracker) Leave(clientID string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	delete(pt.peers, clientID)
}

// All returns every peer except excludeClientID, ordered by client id.
func (pt *PeerTracker) All(excludeClientID string) []Peer {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	peers := make([]Peer, 0, len(pt.peers))
	for id, p := range pt.peers {
		if id != excludeClientID {
			peers = append(peers, *p)
		}
	}
	slices.SortFunc(peers, func(a, b Peer) int {
		return strings.Compare(a.ClientID, b.ClientID)
	})
	return peers
}

// Len returns the number of peers
func (pt *PeerTracker) Len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.peers)
}
