// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package detect runs an auxiliary probe loop over a pool of candidate
// nodes, tracking their liveness and reported capacity independently
// of the Kademlia handler state machine.
package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/xdagj/xdagj-p2p-go/p2p/discover"
)

const (
	cycleInterval          = 5 * time.Second
	nodeDetectTimeout      = 2 * time.Second
	minNodes               = 200
	maxNodeFastDetect      = 100
	maxNodes               = 300
	nodeDetectMinThreshold = 30 * time.Second
	maxNodeNormalDetect    = 10
	nodeDetectThreshold    = 5 * time.Minute
	maxNodeSlowDetect      = 3

	badNodeCacheTTL  = time.Hour
	badNodeCacheSize = 5000
)

// Prober issues a liveness probe to a node, returning its reported
// spare capacity. No concrete transport is specified by the domain
// this was adapted from, so the handshake itself is abstracted behind
// this interface for testability.
type Prober interface {
	Probe(ctx context.Context, n *discover.Node) (remainConnections int, err error)
}

// Source supplies fresh candidate nodes to refill the tracked set.
type Source interface {
	ConnectableNodes() []*discover.Node
}

// NodeStats is the per-address bookkeeping record of spec §4.6.
type NodeStats struct {
	Node                  *discover.Node
	LastDetectTime        time.Time
	LastSuccessDetectTime time.Time
	StatusMessage         string
	RemainConnections     int
	probing               bool
}

type badNodeEntry struct {
	at time.Time
}

// Handler is the Node Detect Handler (module I).
type Handler struct {
	prober Prober
	source Source

	mu      sync.Mutex
	tracked map[string]*NodeStats

	badNodes *lru.Cache

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHandler constructs a Handler. Call Run to start its probe loop.
func NewHandler(prober Prober, source Source) *Handler {
	cache, err := lru.New(badNodeCacheSize)
	if err != nil {
		panic(err)
	}
	return &Handler{
		prober:   prober,
		source:   source,
		tracked:  make(map[string]*NodeStats),
		badNodes: cache,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run drives the 5s detect cycle until Stop is called.
func (h *Handler) Run() {
	defer close(h.doneCh)
	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.cycle()
		}
	}
}

// Stop ends the probe loop and waits for it to exit.
func (h *Handler) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *Handler) isBadNode(addr string) bool {
	v, ok := h.badNodes.Get(addr)
	if !ok {
		return false
	}
	if time.Since(v.(badNodeEntry).at) > badNodeCacheTTL {
		h.badNodes.Remove(addr)
		return false
	}
	return true
}

func (h *Handler) markBad(addr string) {
	h.badNodes.Add(addr, badNodeEntry{at: time.Now()})
	h.mu.Lock()
	delete(h.tracked, addr)
	h.mu.Unlock()
}

// cycle implements spec §4.6's work() steps 1-4.
func (h *Handler) cycle() {
	h.trimTimedOut()
	h.refill()
	h.probeStalest()
}

// trimTimedOut moves any entry whose probe started more than
// nodeDetectTimeout ago without completing into the bad-node cache.
func (h *Handler) trimTimedOut() {
	now := time.Now()
	h.mu.Lock()
	var timedOut []string
	for addr, st := range h.tracked {
		if st.probing && now.Sub(st.LastDetectTime) > nodeDetectTimeout {
			timedOut = append(timedOut, addr)
		}
	}
	h.mu.Unlock()
	for _, addr := range timedOut {
		h.markBad(addr)
	}
}

func addrKey(n *discover.Node) string {
	ip := n.IP4
	if ip == nil {
		ip = n.IP6
	}
	return fmt.Sprintf("%s/%d", ip.String(), n.Port)
}

// refill adds fresh candidates from Source when the tracked set is
// below minNodes, capped at maxNodeFastDetect per cycle and maxNodes
// total.
func (h *Handler) refill() {
	h.mu.Lock()
	size := len(h.tracked)
	h.mu.Unlock()
	if size >= minNodes {
		return
	}
	added := 0
	for _, n := range h.source.ConnectableNodes() {
		if added >= maxNodeFastDetect {
			break
		}
		addr := addrKey(n)
		h.mu.Lock()
		_, tracked := h.tracked[addr]
		full := len(h.tracked) >= maxNodes
		h.mu.Unlock()
		if tracked || full || h.isBadNode(addr) {
			continue
		}
		h.mu.Lock()
		h.tracked[addr] = &NodeStats{Node: n}
		h.mu.Unlock()
		added++
	}
}

// probeStalest implements spec §4.6 step 4: take the stalest tracked
// node; skip the round if it's still within nodeDetectMinThreshold;
// otherwise probe a batch sized by how stale the stalest entry is.
func (h *Handler) probeStalest() {
	stale := h.stalestFirst()
	if len(stale) == 0 {
		return
	}
	stalest := stale[0]
	age := time.Since(stalest.LastDetectTime)
	if age < nodeDetectMinThreshold {
		return
	}
	batch := maxNodeNormalDetect
	if age < nodeDetectThreshold {
		batch = maxNodeSlowDetect
	}
	if batch > len(stale) {
		batch = len(stale)
	}
	for _, st := range stale[:batch] {
		h.probeOne(st)
	}
}

func (h *Handler) stalestFirst() []*NodeStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*NodeStats, 0, len(h.tracked))
	for _, st := range h.tracked {
		out = append(out, st)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].LastDetectTime.Before(out[j-1].LastDetectTime); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (h *Handler) probeOne(st *NodeStats) {
	addr := addrKey(st.Node)
	h.mu.Lock()
	st.LastDetectTime = time.Now()
	st.probing = true
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), nodeDetectTimeout)
	defer cancel()
	remain, err := h.prober.Probe(ctx, st.Node)

	h.mu.Lock()
	st.probing = false
	h.mu.Unlock()

	if err != nil || remain == 0 {
		h.markBad(addr)
		return
	}
	h.mu.Lock()
	st.LastSuccessDetectTime = time.Now()
	st.StatusMessage = "ok"
	st.RemainConnections = remain
	h.mu.Unlock()
}

// ConnectableNodes returns every currently tracked, non-bad node,
// sorted by descending reported RemainConnections — the candidate feed
// the pool controller consults first (spec §4.6/§4.7 step 4).
func (h *Handler) ConnectableNodes() []*discover.Node {
	h.mu.Lock()
	stats := make([]*NodeStats, 0, len(h.tracked))
	for _, st := range h.tracked {
		stats = append(stats, st)
	}
	h.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].RemainConnections > stats[j].RemainConnections
	})
	out := make([]*discover.Node, len(stats))
	for i, st := range stats {
		out[i] = st.Node
	}
	return out
}

// Size reports how many nodes are currently tracked.
func (h *Handler) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tracked)
}
