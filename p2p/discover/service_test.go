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
	"sync"
	"testing"
	"time"
)

// fakeConn records every outbound packet instead of touching a socket.
type fakeConn struct {
	mu   sync.Mutex
	sent []sentPacket
}

type sentPacket struct {
	addr *net.UDPAddr
	typ  byte
}

func (c *fakeConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentPacket{addr: addr, typ: b[0]})
	return len(b), nil
}

func (c *fakeConn) countOfType(typ byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.sent {
		if p.typ == typ {
			n++
		}
	}
	return n
}

func testSelf() *Node {
	var id NodeID
	id[0] = 0xaa
	return &Node{ID: id, IP4: net.IPv4(127, 0, 0, 1), Port: 30303, BindPort: 30303, NetworkID: 1}
}

func remoteUDPAddr(n *Node) *net.UDPAddr {
	return &net.UDPAddr{IP: n.IP4, Port: int(n.Port)}
}

// TestInboundPingBondsBackAndAdmitsOnPong mirrors scenario S1: a remote
// node R pings us; our handler must bond back with its own ping so
// that R's eventual pong drives DISCOVERED -> ALIVE -> ACTIVE and R's
// admission into the routing table.
func TestInboundPingBondsBackAndAdmitsOnPong(t *testing.T) {
	self := testSelf()
	conn := &fakeConn{}
	svc := NewService(Config{Self: self, LocalNetworkID: 1, Conn: conn, LocalHasIPv4: true})
	defer svc.Close()

	var remoteID NodeID
	remoteID[0] = 0xbb
	remote := &Node{ID: remoteID, IP4: net.IPv4(10, 0, 0, 5), Port: 30303, BindPort: 30303, NetworkID: 1}
	addr := remoteUDPAddr(remote)

	ping := pingMessage{
		version:   4,
		from:      endpointOf(remote),
		to:        endpointOf(self),
		timestamp: time.Now().Unix(),
	}
	svc.HandleEvent(encodePing(ping), addr)

	h := svc.handlerFor(hostKey(remote))
	if h == nil {
		t.Fatal("no handler created for inbound ping")
	}
	if h.State() != StateDiscovered {
		t.Fatalf("state after inbound ping = %v, want DISCOVERED", h.State())
	}
	if conn.countOfType(kadPong) != 1 {
		t.Fatalf("expected exactly one pong reply, got %d", conn.countOfType(kadPong))
	}
	if conn.countOfType(kadPing) != 1 {
		t.Fatalf("expected handlePing to bond back with its own ping, got %d pings sent", conn.countOfType(kadPing))
	}

	pong := pongMessage{from: endpointOf(remote), timestamp: time.Now().Unix()}
	svc.HandleEvent(encodePong(pong), addr)

	if h.State() != StateActive {
		t.Fatalf("state after R's pong = %v, want ACTIVE", h.State())
	}
	if !svc.Table().Contains(remote.ID) {
		t.Fatal("R did not appear in the routing table after its pong")
	}
}

// TestHandlePongPersistsNode covers the nodeDB wiring: a successful
// pong should update the persistent record so it can later seed
// ChannelActivated on restart.
func TestHandlePongPersistsNode(t *testing.T) {
	self := testSelf()
	conn := &fakeConn{}
	svc := NewService(Config{Self: self, LocalNetworkID: 1, Conn: conn, LocalHasIPv4: true})
	defer svc.Close()

	var remoteID NodeID
	remoteID[0] = 0xcc
	remote := &Node{ID: remoteID, IP4: net.IPv4(10, 0, 0, 6), Port: 30303, BindPort: 30303, NetworkID: 1}
	addr := remoteUDPAddr(remote)

	h := svc.getOrCreateHandler(remote)
	h.SendPing()

	pong := pongMessage{from: endpointOf(remote), timestamp: time.Now().Unix()}
	svc.HandleEvent(encodePong(pong), addr)

	if svc.db.lastPong(remote.ID).IsZero() {
		t.Fatal("handlePong did not persist a lastPong time for the remote node")
	}
}

// TestChannelActivatedReseedsFromDB covers spec.md §4.1's restart-reseed
// enrichment: a node persisted with a recent pong is pinged again by
// ChannelActivated, without needing to be rediscovered via bootnodes.
func TestChannelActivatedReseedsFromDB(t *testing.T) {
	self := testSelf()
	conn := &fakeConn{}
	svc := NewService(Config{Self: self, LocalNetworkID: 1, Conn: conn, LocalHasIPv4: true})
	defer svc.Close()

	var seedID NodeID
	seedID[0] = 0xdd
	seed := &Node{ID: seedID, IP4: net.IPv4(10, 0, 0, 7), Port: 30303, BindPort: 30303, NetworkID: 1}
	svc.db.updateNode(seed)
	svc.db.updateLastPong(seed.ID, time.Now())

	svc.ChannelActivated()

	if conn.countOfType(kadPing) == 0 {
		t.Fatal("ChannelActivated did not ping the persisted seed node")
	}
	if svc.handlerFor(hostKey(seed)) == nil {
		t.Fatal("ChannelActivated did not create a handler for the persisted seed node")
	}
}
