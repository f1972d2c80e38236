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

package discover

import (
	"net"
	"testing"
	"time"
)

func TestUntriedFiltersAlreadyTried(t *testing.T) {
	var a, b NodeID
	a[0], b[0] = 1, 2
	nodes := []*Node{{ID: a}, {ID: b}}
	tried := map[NodeID]bool{a: true}

	out := untried(nodes, tried)
	if len(out) != 1 || out[0].ID != b {
		t.Fatalf("untried = %v, want only %v", out, b)
	}
}

// TestLookupSendsFindNodeOnlyToActiveHandlers covers spec.md §4.3's
// lookup round: a candidate is only queried with KAD_FIND_NODE once its
// handler has reached ACTIVE.
func TestLookupSendsFindNodeOnlyToActiveHandlers(t *testing.T) {
	self := testSelf()
	conn := &fakeConn{}
	svc := NewService(Config{Self: self, LocalNetworkID: 1, Conn: conn, LocalHasIPv4: true})
	defer svc.Close()

	var activeID NodeID
	activeID[0] = 0xee
	active := &Node{ID: activeID, IP4: net.IPv4(10, 0, 0, 9), Port: 30303, BindPort: 30303, NetworkID: 1}
	svc.Table().Add(active)
	h := svc.getOrCreateHandler(active)
	h.SendPing()
	svc.HandleEvent(encodePong(pongMessage{from: endpointOf(active), timestamp: time.Now().Unix()}), remoteUDPAddr(active))
	if h.State() != StateActive {
		t.Fatalf("setup: handler state = %v, want ACTIVE", h.State())
	}

	svc.lookup(active.ID)
	if conn.countOfType(kadFindNode) == 0 {
		t.Fatal("lookup did not send KAD_FIND_NODE to an ACTIVE handler")
	}
}

func TestLookupSkipsNonActiveHandlers(t *testing.T) {
	self := testSelf()
	conn := &fakeConn{}
	svc := NewService(Config{Self: self, LocalNetworkID: 1, Conn: conn, LocalHasIPv4: true})
	defer svc.Close()

	var discoveredID NodeID
	discoveredID[0] = 0xff
	discovered := &Node{ID: discoveredID, IP4: net.IPv4(10, 0, 0, 10), Port: 30303, BindPort: 30303, NetworkID: 1}
	svc.Table().Add(discovered)
	svc.getOrCreateHandler(discovered) // created, but never bonded: stays DISCOVERED

	svc.lookup(discovered.ID)
	if conn.countOfType(kadFindNode) != 0 {
		t.Fatalf("lookup sent KAD_FIND_NODE to a non-ACTIVE handler: %d", conn.countOfType(kadFindNode))
	}
}

// TestDiscoverLoopStopsOnStopCh ensures DiscoverLoop returns promptly
// once its stop channel is closed, without waiting for DiscoverCycle.
func TestDiscoverLoopStopsOnStopCh(t *testing.T) {
	self := testSelf()
	svc := NewService(Config{Self: self, LocalNetworkID: 1, LocalHasIPv4: true})
	defer svc.Close()

	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		svc.DiscoverLoop(stopCh)
		close(done)
	}()
	close(stopCh)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("DiscoverLoop did not return after stopCh was closed")
	}
}
