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

import "testing"

// fakeHost is a minimal handlerHost stub for unit-testing NodeHandler
// transitions in isolation, without a real Service/table/network.
type fakeHost struct {
	pings      int
	findNodes  int
	table      *NodeTable
	handlers   map[string]*NodeHandler
	dropped    []*Node
	replaced   [][2]*Node
	networkID  uint64
	threshold  int
}

func newFakeHost() *fakeHost {
	var self NodeID
	return &fakeHost{
		table:     NewNodeTable(self),
		handlers:  make(map[string]*NodeHandler),
		networkID: 1,
		threshold: defaultDeathReputationThreshold,
	}
}

func (f *fakeHost) sendPing(h *NodeHandler)               { f.pings++ }
func (f *fakeHost) sendFindNode(h *NodeHandler, t NodeID)  { f.findNodes++ }
func (f *fakeHost) tableAdd(n *Node) *Node                 { return f.table.Add(n) }
func (f *fakeHost) tableReplace(old, new *Node)            { f.replaced = append(f.replaced, [2]*Node{old, new}) }
func (f *fakeHost) tableDrop(n *Node)                      { f.dropped = append(f.dropped, n) }
func (f *fakeHost) handlerFor(key string) *NodeHandler     { return f.handlers[key] }
func (f *fakeHost) deathReputationThreshold() int          { return f.threshold }
func (f *fakeHost) localNetworkID() uint64                 { return f.networkID }

// testable property 3: at most one outstanding waitForPong per handler.
func TestSendPingAtMostOneOutstanding(t *testing.T) {
	host := newFakeHost()
	h := NewNodeHandler(testNode(1, "10.0.0.1"), host)
	h.SendPing()
	h.SendPing()
	h.SendPing()
	if host.pings != 1 {
		t.Fatalf("expected exactly 1 ping sent while one is outstanding, got %d", host.pings)
	}
}

// S1-flavored: DISCOVERED -> (ping) -> ALIVE -> ACTIVE on pong.
func TestHandlerDiscoveredToActive(t *testing.T) {
	host := newFakeHost()
	h := NewNodeHandler(testNode(1, "10.0.0.1"), host)
	if h.State() != StateDiscovered {
		t.Fatalf("new handler must start DISCOVERED")
	}
	h.SendPing()
	h.HandlePong(host.networkID)
	if h.State() != StateActive {
		t.Fatalf("expected ACTIVE after pong admits to an empty table, got %s", h.State())
	}
	if !host.table.Contains(h.Node().ID) {
		t.Fatalf("expected node present in table after admission")
	}
}

func TestHandlePongNetworkMismatchForcesDead(t *testing.T) {
	host := newFakeHost()
	h := NewNodeHandler(testNode(1, "10.0.0.1"), host)
	h.SendPing()
	h.HandlePong(host.networkID + 1)
	if h.State() != StateDead {
		t.Fatalf("expected DEAD on network id mismatch, got %s", h.State())
	}
}

func TestPingTimeoutExhaustsTrialsThenDies(t *testing.T) {
	host := newFakeHost()
	h := NewNodeHandler(testNode(1, "10.0.0.1"), host)
	h.SendPing()
	h.HandlePongTimeout() // trial 1 -> resend
	if host.pings != 2 {
		t.Fatalf("expected a retry after the first timeout, got %d pings", host.pings)
	}
	h.HandlePongTimeout() // trials exhausted
	if h.State() != StateDead {
		t.Fatalf("expected DEAD once ping trials are exhausted, got %s", h.State())
	}
}

// Revival rule: a DEAD handler receiving a valid ping returns to DISCOVERED.
func TestHandlePingRevivesDeadHandler(t *testing.T) {
	host := newFakeHost()
	h := NewNodeHandler(testNode(1, "10.0.0.1"), host)
	h.SendPing()
	h.HandlePongTimeout()
	h.HandlePongTimeout()
	if h.State() != StateDead {
		t.Fatalf("precondition failed: handler should be DEAD")
	}
	h.HandlePing(host.networkID)
	if h.State() != StateDiscovered {
		t.Fatalf("expected DISCOVERED after revival ping, got %s", h.State())
	}
}

// Reputation-aware death: ACTIVE handler above the threshold survives
// exhausted ping trials instead of dying.
func TestReputationAwareGracePeriod(t *testing.T) {
	host := newFakeHost()
	host.threshold = 0 // any non-negative reputation grants grace
	h := NewNodeHandler(testNode(1, "10.0.0.1"), host)
	h.SendPing()
	h.HandlePong(host.networkID) // -> ALIVE -> ACTIVE
	if h.State() != StateActive {
		t.Fatalf("precondition failed: expected ACTIVE")
	}
	h.SendPing()
	h.HandlePongTimeout()
	h.HandlePongTimeout()
	if h.State() != StateActive {
		t.Fatalf("expected grace period to keep handler ACTIVE, got %s", h.State())
	}
}

func TestAcceptNeighborsOnlyWhenWaiting(t *testing.T) {
	host := newFakeHost()
	h := NewNodeHandler(testNode(1, "10.0.0.1"), host)
	if h.AcceptNeighbors() {
		t.Fatalf("expected unsolicited neighbours to be rejected")
	}
	h.WaitForNeighbors()
	if !h.AcceptNeighbors() {
		t.Fatalf("expected neighbours to be accepted once requested")
	}
	if h.AcceptNeighbors() {
		t.Fatalf("expected the waiting flag to be cleared after one accept")
	}
}
