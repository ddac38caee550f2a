package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/user/ghostmesh/mesh/packet"
)

// Peer is one observed source address with activity timestamps
type Peer struct {
	Address   packet.Address `json:"address"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
	Packets   int            `json:"packets"`
}

// peerTracker keeps the last-seen table of source addresses observed on
// the medium. The node uses it to fire DeviceObserved once per peer (and
// again after the peer has been silent past the staleness window) rather
// than on every beacon.
type peerTracker struct {
	mu    sync.Mutex
	peers map[packet.Address]*Peer
	now   func() time.Time
}

func newPeerTracker() *peerTracker {
	return &peerTracker{
		peers: make(map[packet.Address]*Peer),
		now:   time.Now,
	}
}

// observe records activity from addr and reports whether the peer should
// be announced (new, or silent longer than staleAfter)
func (pt *peerTracker) observe(addr packet.Address, staleAfter time.Duration) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := pt.now()
	peer, exists := pt.peers[addr]
	if !exists {
		pt.peers[addr] = &Peer{Address: addr, FirstSeen: now, LastSeen: now, Packets: 1}
		return true
	}

	announce := now.Sub(peer.LastSeen) > staleAfter
	peer.LastSeen = now
	peer.Packets++
	return announce
}

// prune drops peers silent longer than maxAge, returning how many
func (pt *peerTracker) prune(maxAge time.Duration) int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	cutoff := pt.now().Add(-maxAge)
	pruned := 0
	for addr, peer := range pt.peers {
		if peer.LastSeen.Before(cutoff) {
			delete(pt.peers, addr)
			pruned++
		}
	}
	return pruned
}

// snapshot returns a copy of the peer table, most recently seen first
func (pt *peerTracker) snapshot() []Peer {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	peers := make([]Peer, 0, len(pt.peers))
	for _, peer := range pt.peers {
		peers = append(peers, *peer)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].LastSeen.After(peers[j].LastSeen)
	})
	return peers
}
