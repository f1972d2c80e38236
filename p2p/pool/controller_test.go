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

package pool

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/xdagj/xdagj-p2p-go/p2p/discover"
)

type recordingDialer struct {
	mu    sync.Mutex
	dials []Candidate
}

func (d *recordingDialer) Dial(c Candidate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, c)
}

func (d *recordingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

type staticSource struct {
	nodes []*discover.Node
}

func (s staticSource) ConnectableNodes() []*discover.Node { return s.nodes }

type fakePeers struct {
	channels []Channel
}

func (f *fakePeers) Channels() []Channel { return f.channels }
func (f *fakePeers) Disconnect(ch Channel, reason string) {
	for i, c := range f.channels {
		if c.Addr == ch.Addr {
			f.channels = append(f.channels[:i], f.channels[i+1:]...)
			return
		}
	}
}

func kadNode(b byte, port uint16) *discover.Node {
	return &discover.Node{IP4: net.IPv4(10, 0, 0, b), Port: port, UpdateTime: time.Now()}
}

// TestNoDialIntoBannedOrRecentlyAttempted covers testable property 8:
// the controller never dials an address currently in peerClientCache
// or bannedNodes.
func TestNoDialIntoBannedOrRecentlyAttempted(t *testing.T) {
	n := kadNode(1, 30303)
	dialer := &recordingDialer{}
	peers := &fakePeers{}
	cfg := Config{MinConnections: 5, MinActiveConnections: 0, MaxConnections: 10}
	c := NewController(cfg, dialer, nil, staticSource{[]*discover.Node{n}}, nil, peers)

	c.Ban(candidateOf(n).Addr)
	c.Tick()
	if dialer.count() != 0 {
		t.Fatalf("dialed a banned node: %d dials", dialer.count())
	}
}

func TestNoDialIntoRecentlyAttempted(t *testing.T) {
	n := kadNode(2, 30303)
	dialer := &recordingDialer{}
	peers := &fakePeers{}
	cfg := Config{MinConnections: 5, MinActiveConnections: 0, MaxConnections: 10}
	c := NewController(cfg, dialer, nil, staticSource{[]*discover.Node{n}}, nil, peers)

	c.peerClient.Add(candidateOf(n).Addr, time.Now())
	c.Tick()
	if dialer.count() != 0 {
		t.Fatalf("dialed a recently-attempted node: %d dials", dialer.count())
	}
}

// TestPoolConvergence covers scenario S6: minConnections=3, no active
// nodes, 10 connectable Kademlia nodes seeded. After two cycles,
// exactly 3 dial attempts, no duplicate IPs, all 3 present in
// peerClientCache.
func TestPoolConvergence(t *testing.T) {
	var nodes []*discover.Node
	for i := 0; i < 10; i++ {
		nodes = append(nodes, kadNode(byte(i+1), 30303))
	}
	dialer := &recordingDialer{}
	peers := &fakePeers{}
	cfg := Config{MinConnections: 3, MinActiveConnections: 0, MaxConnections: 50}
	c := NewController(cfg, dialer, nil, staticSource{nodes}, nil, peers)

	c.Tick()
	c.Tick()

	if dialer.count() != 3 {
		t.Fatalf("dial count = %d, want 3", dialer.count())
	}
	seen := make(map[string]bool)
	for _, d := range dialer.dials {
		if seen[d.IP] {
			t.Fatalf("duplicate dial to IP %s", d.IP)
		}
		seen[d.IP] = true
		if _, ok := c.peerClient.Get(d.Addr); !ok {
			t.Fatalf("dialed address %s missing from peerClientCache", d.Addr)
		}
	}
}

func TestActiveNodesDialedFirstBypassingLack(t *testing.T) {
	dialer := &recordingDialer{}
	peers := &fakePeers{channels: make([]Channel, 5)} // already at minConnections
	for i := range peers.channels {
		peers.channels[i] = Channel{Addr: fmt.Sprintf("1.1.1.%d:1", i), IP: fmt.Sprintf("1.1.1.%d", i), Active: true}
	}
	active := Candidate{ID: "active1", Addr: "9.9.9.9", IP: "9.9.9.9"}
	cfg := Config{MinConnections: 5, MinActiveConnections: 5, MaxConnections: 50, ActiveNodes: []Candidate{active}}
	c := NewController(cfg, dialer, nil, nil, nil, peers)

	c.Tick()

	found := false
	for _, d := range dialer.dials {
		if d.Addr == active.Addr {
			found = true
		}
	}
	if !found {
		t.Fatal("configured active node was not dialed")
	}
}

// TestSameIPCapEnforced covers spec.md §4.7 step 4's per-IP dial cap:
// once maxConnectionsWithSameIP dials have landed on one IP, validNode
// rejects a further candidate at that IP, and ReleaseIP (called on
// disconnect/eviction) frees a slot back up.
func TestSameIPCapEnforced(t *testing.T) {
	dialer := &recordingDialer{}
	peers := &fakePeers{}
	cfg := Config{MinConnections: 50, MinActiveConnections: 0, MaxConnections: 50}
	c := NewController(cfg, dialer, nil, nil, nil, peers)

	const ip = "10.0.0.9"
	for i := 0; i < maxConnectionsWithSameIP; i++ {
		c.dial(Candidate{Addr: fmt.Sprintf("%s:%d", ip, 30300+i), IP: ip}, false)
	}

	cand := Candidate{Addr: fmt.Sprintf("%s:%d", ip, 40000), IP: ip}
	nodesInUse, addressInUse, inetInUse := c.inUseSets()
	if c.validNode(cand, nodesInUse, addressInUse, inetInUse) {
		t.Fatal("validNode allowed a candidate once the per-IP cap was reached")
	}

	c.ReleaseIP(ip)
	if !c.validNode(cand, nodesInUse, addressInUse, inetInUse) {
		t.Fatal("validNode still rejected the candidate after ReleaseIP freed a slot")
	}
}

func TestDisconnectCycleSkipsTrustedAndActive(t *testing.T) {
	dialer := &recordingDialer{}
	peers := &fakePeers{channels: []Channel{
		{Addr: "a", Active: true},
		{Addr: "b", Trusted: true},
		{Addr: "c", Active: false, Trusted: false},
	}}
	cfg := Config{MaxConnections: 3, DisconnectionPolicyEnabled: true}
	c := NewController(cfg, dialer, nil, nil, nil, peers)

	c.disconnectCycle()

	if len(peers.channels) != 2 {
		t.Fatalf("expected one disconnect, got %d channels left", len(peers.channels))
	}
	for _, ch := range peers.channels {
		if ch.Addr == "c" {
			t.Fatal("the only eligible (passive, non-trusted) channel should have been evicted")
		}
	}
}
