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

package detect

import (
	"context"
	"net"
	"testing"

	"github.com/xdagj/xdagj-p2p-go/p2p/discover"
)

type fakeSource struct {
	nodes []*discover.Node
}

func (s *fakeSource) ConnectableNodes() []*discover.Node { return s.nodes }

type fakeProber struct {
	remain map[string]int
	err    map[string]error
}

func (p *fakeProber) Probe(ctx context.Context, n *discover.Node) (int, error) {
	key := addrKey(n)
	if err, ok := p.err[key]; ok {
		return 0, err
	}
	return p.remain[key], nil
}

func testNode(b byte, port uint16) *discover.Node {
	return &discover.Node{IP4: net.IPv4(127, 0, 0, b), Port: port}
}

func TestRefillRespectsMinNodes(t *testing.T) {
	var nodes []*discover.Node
	for i := 0; i < 10; i++ {
		nodes = append(nodes, testNode(byte(i+1), 30000+uint16(i)))
	}
	h := NewHandler(&fakeProber{remain: map[string]int{}}, &fakeSource{nodes: nodes})
	h.refill()
	if h.Size() != 10 {
		t.Fatalf("Size() = %d, want 10", h.Size())
	}
}

func TestRefillSkipsBadNodes(t *testing.T) {
	n := testNode(1, 30000)
	h := NewHandler(&fakeProber{}, &fakeSource{nodes: []*discover.Node{n}})
	h.markBad(addrKey(n))
	h.refill()
	if h.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 (node is bad-cached)", h.Size())
	}
}

func TestProbeOneMovesZeroCapacityToBadCache(t *testing.T) {
	n := testNode(1, 30000)
	h := NewHandler(&fakeProber{remain: map[string]int{addrKey(n): 0}}, &fakeSource{})
	st := &NodeStats{Node: n}
	h.mu.Lock()
	h.tracked[addrKey(n)] = st
	h.mu.Unlock()

	h.probeOne(st)

	if !h.isBadNode(addrKey(n)) {
		t.Fatal("node with remainConnections=0 should be marked bad")
	}
	if h.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 (node dropped from tracked set)", h.Size())
	}
}

func TestProbeOneRecordsSuccess(t *testing.T) {
	n := testNode(1, 30000)
	h := NewHandler(&fakeProber{remain: map[string]int{addrKey(n): 5}}, &fakeSource{})
	st := &NodeStats{Node: n}
	h.mu.Lock()
	h.tracked[addrKey(n)] = st
	h.mu.Unlock()

	h.probeOne(st)

	if st.LastSuccessDetectTime.IsZero() {
		t.Fatal("expected LastSuccessDetectTime to be set")
	}
	if h.isBadNode(addrKey(n)) {
		t.Fatal("successful probe should not be bad-cached")
	}
}

func TestConnectableNodesReturnsTracked(t *testing.T) {
	n := testNode(1, 30000)
	h := NewHandler(&fakeProber{}, &fakeSource{nodes: []*discover.Node{n}})
	h.refill()
	out := h.ConnectableNodes()
	if len(out) != 1 {
		t.Fatalf("ConnectableNodes returned %d nodes, want 1", len(out))
	}
}
