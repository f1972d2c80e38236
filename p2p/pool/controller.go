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

// Package pool drives outbound connection attempts toward a target
// connection count, filling from Node Detect, Kademlia, and the DNS
// iterator in that priority order.
package pool

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	set "gopkg.in/fatih/set.v0"

	"github.com/xdagj/xdagj-p2p-go/logger"
	"github.com/xdagj/xdagj-p2p-go/logger/glog"
	"github.com/xdagj/xdagj-p2p-go/p2p/discover"
)

const (
	cycleInterval             = 3600 * time.Millisecond
	disconnectCycleInterval   = 30 * time.Second
	peerClientCacheTTL        = 120 * time.Second
	bannedNodesTTL            = 60 * time.Second
	peerClientCacheSize       = 4096
	bannedNodesSize           = 4096
	maxConnectionsWithSameIP  = 3
)

// Candidate is a dial target, carrying enough identity to dedupe
// against in-use/banned sets.
type Candidate struct {
	ID         string // empty if unknown
	Addr       string // host:port, used as the dial + ban key
	IP         string
	UpdateTime time.Time
}

// Dialer issues an asynchronous outbound TCP connection attempt.
type Dialer interface {
	Dial(c Candidate)
}

// NodeSource supplies connectable Candidates, shared by the Node
// Detect handler, the Kademlia service and the DNS iterator.
type NodeSource interface {
	ConnectableNodes() []*discover.Node
}

// Channel is one connected (or connecting) peer link, as tracked by
// the pool for uniqueness/disconnection bookkeeping.
type Channel struct {
	ID          string
	Addr        string
	IP          string
	Active      bool // outbound
	Trusted     bool
	Disconnect  bool
}

// ChannelSource reports currently live channels, i.e. the pool's view
// of "already connected".
type ChannelSource interface {
	Channels() []Channel
	Disconnect(ch Channel, reason string)
}

// Config holds Controller tuning parameters, per spec.md §4.7.
type Config struct {
	MinConnections           int
	MinActiveConnections     int
	MaxConnections           int
	ActiveNodes              []Candidate
	DisconnectionPolicyEnabled bool
}

// Controller is the Connection Pool Controller (module J).
type Controller struct {
	cfg     Config
	dialer  Dialer
	detect  NodeSource
	kademlia NodeSource
	dns     NodeSource
	peers   ChannelSource

	mu           sync.Mutex
	peerClient   *lru.Cache
	bannedNodes  *lru.Cache
	perIPCount   map[string]int
	connecting   int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewController wires the four collaborators together.
func NewController(cfg Config, dialer Dialer, detect, kademlia, dns NodeSource, peers ChannelSource) *Controller {
	pc, err := lru.New(peerClientCacheSize)
	if err != nil {
		panic(err)
	}
	bn, err := lru.New(bannedNodesSize)
	if err != nil {
		panic(err)
	}
	return &Controller{
		cfg: cfg, dialer: dialer, detect: detect, kademlia: kademlia, dns: dns, peers: peers,
		peerClient:  pc,
		bannedNodes: bn,
		perIPCount:  make(map[string]int),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Run drives both the connection cycle and, if enabled, the
// disconnection-policy timer, until Stop is called.
func (c *Controller) Run() {
	defer close(c.doneCh)
	connTicker := time.NewTicker(cycleInterval)
	defer connTicker.Stop()
	var discTicker *time.Ticker
	var discC <-chan time.Time
	if c.cfg.DisconnectionPolicyEnabled {
		discTicker = time.NewTicker(disconnectCycleInterval)
		defer discTicker.Stop()
		discC = discTicker.C
	}
	for {
		select {
		case <-c.stopCh:
			return
		case <-connTicker.C:
			c.connectCycle()
		case <-discC:
			c.disconnectCycle()
		}
	}
}

// Stop ends both timers and waits for the loop to exit.
func (c *Controller) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Tick runs one connection cycle synchronously; exported for tests
// and for triggering an ad-hoc run when a pending dial completes, per
// spec.md §4.7's "fires ... plus an ad-hoc run".
func (c *Controller) Tick() { c.connectCycle() }

func (c *Controller) connectCycle() {
	nodesInUse, addressInUse, inetInUse := c.inUseSets()
	connected, passive := c.channelCounts()

	var dialed []Candidate
	for _, n := range c.cfg.ActiveNodes {
		if !nodesInUse.Has(n.ID) && !addressInUse.Has(n.Addr) {
			dialed = append(dialed, n)
		}
	}

	lack := maxInt(c.cfg.MinConnections-c.connectingCount()-passive, c.cfg.MinActiveConnections-c.connectingCount())
	if connected >= c.cfg.MinConnections && c.cfg.MinActiveConnections-c.connectingCount() <= 0 {
		lack = 0
	}
	if lack < 0 {
		lack = 0
	}

	var candidates []Candidate
	candidates = append(candidates, c.validFrom(c.detect, nodesInUse, addressInUse, inetInUse)...)
	kadCandidates := c.validFrom(c.kademlia, nodesInUse, addressInUse, inetInUse)
	sort.Slice(kadCandidates, func(i, j int) bool { return kadCandidates[i].UpdateTime.After(kadCandidates[j].UpdateTime) })
	candidates = append(candidates, kadCandidates...)
	candidates = append(candidates, c.validFrom(c.dns, nodesInUse, addressInUse, inetInUse)...)

	picked := dedupe(candidates)
	if len(picked) > lack {
		picked = picked[:lack]
	}

	for _, n := range dialed {
		c.dial(n, true)
	}
	for _, n := range picked {
		c.dial(n, false)
	}
}

func (c *Controller) dial(n Candidate, active bool) {
	c.dialer.Dial(n)
	c.mu.Lock()
	c.peerClient.Add(n.Addr, time.Now())
	c.perIPCount[n.IP]++
	if !active {
		c.connecting++
	}
	c.mu.Unlock()
}

// ReleaseIP decrements the per-IP dial count, to be called once a
// dialed candidate's connection attempt concludes (succeeds, fails, or
// is disconnected), so the same-IP cap reflects live connections
// rather than growing unbounded across the pool's lifetime.
func (c *Controller) ReleaseIP(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.perIPCount[ip] > 0 {
		c.perIPCount[ip]--
	}
}

func (c *Controller) connectingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connecting
}

func (c *Controller) inUseSets() (nodesInUse, addressInUse, inetInUse *set.Set) {
	nodesInUse = set.New()
	addressInUse = set.New()
	inetInUse = set.New()
	for _, ch := range c.peers.Channels() {
		if ch.ID != "" {
			nodesInUse.Add(ch.ID)
		}
		addressInUse.Add(ch.Addr)
		inetInUse.Add(ch.IP)
	}
	return
}

func (c *Controller) channelCounts() (connected, passive int) {
	for _, ch := range c.peers.Channels() {
		connected++
		if !ch.Active {
			passive++
		}
	}
	return
}

// validFrom pulls Candidates from a NodeSource and filters them per
// spec.md §4.7 step 4's validNode predicate.
func (c *Controller) validFrom(src NodeSource, nodesInUse, addressInUse, inetInUse *set.Set) []Candidate {
	if src == nil {
		return nil
	}
	var out []Candidate
	for _, n := range src.ConnectableNodes() {
		cand := candidateOf(n)
		if c.validNode(cand, nodesInUse, addressInUse, inetInUse) {
			out = append(out, cand)
		}
	}
	return out
}

func candidateOf(n *discover.Node) Candidate {
	ip := n.IP4
	if ip == nil {
		ip = n.IP6
	}
	addr := fmt.Sprintf("%s:%d", ip.String(), n.Port)
	return Candidate{ID: n.ID.String(), Addr: addr, IP: ip.String(), UpdateTime: n.UpdateTime}
}

func (c *Controller) validNode(n Candidate, nodesInUse, addressInUse, inetInUse *set.Set) bool {
	if n.Addr == "" {
		return false
	}
	c.mu.Lock()
	banned := c.bannedNodesLocked(n.Addr)
	sameIP := c.perIPCount[n.IP]
	v, recentlyAttempted := c.peerClient.Get(n.Addr)
	if recentlyAttempted && time.Since(v.(time.Time)) > peerClientCacheTTL {
		c.peerClient.Remove(n.Addr)
		recentlyAttempted = false
	}
	c.mu.Unlock()

	if banned || recentlyAttempted {
		return false
	}
	if sameIP >= maxConnectionsWithSameIP {
		return false
	}
	if n.ID != "" && nodesInUse.Has(n.ID) {
		return false
	}
	if addressInUse.Has(n.Addr) || inetInUse.Has(n.IP) {
		return false
	}
	return true
}

func (c *Controller) bannedNodesLocked(addr string) bool {
	v, ok := c.bannedNodes.Get(addr)
	if !ok {
		return false
	}
	if time.Since(v.(time.Time)) > bannedNodesTTL {
		c.bannedNodes.Remove(addr)
		return false
	}
	return true
}

// Ban records addr as banned for bannedNodesTTL.
func (c *Controller) Ban(addr string) {
	c.mu.Lock()
	c.bannedNodes.Add(addr, time.Now())
	c.mu.Unlock()
}

func dedupe(in []Candidate) []Candidate {
	seen := make(map[string]bool, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if seen[c.Addr] {
			continue
		}
		seen[c.Addr] = true
		out = append(out, c)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// disconnectCycle implements spec.md §4.7's RANDOM_ELIMINATION policy:
// once total channels reach maxConnections, evict one random inbound,
// non-trusted, non-already-disconnecting peer.
func (c *Controller) disconnectCycle() {
	channels := c.peers.Channels()
	if len(channels) < c.cfg.MaxConnections {
		return
	}
	var candidates []Channel
	for _, ch := range channels {
		if !ch.Active && !ch.Trusted && !ch.Disconnect {
			candidates = append(candidates, ch)
		}
	}
	if len(candidates) == 0 {
		return
	}
	victim := candidates[rand.Intn(len(candidates))]
	c.peers.Disconnect(victim, "RANDOM_ELIMINATION")
	c.ReleaseIP(victim.IP)
	glog.V(logger.Detail).Infof("pool: disconnected %s (RANDOM_ELIMINATION)", victim.Addr)
}
