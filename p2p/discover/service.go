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
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xdagj/xdagj-p2p-go/logger"
	"github.com/xdagj/xdagj-p2p-go/logger/glog"
)

const (
	// pongTimeout bounds how long a handler waits for a pong before
	// HandlePongTimeout fires (spec.md §4.2 "Ping trials").
	pongTimeout = 500 * time.Millisecond

	// trimTableHigh/trimTableLow are the handler-map trim thresholds
	// from spec.md §4.3's trimTable policy.
	trimTableHigh = 3000
	trimTableLow  = 2000

	// seedCount bounds how many persisted nodes are pinged on startup,
	// adapted from the teacher's table.go seedCount.
	seedCount = 30
)

// PacketConn is the narrow transport surface the service needs,
// matching spec.md §6's "UDP transport: provides an EventHandler
// interface with setMessageSender(fn)". A real *net.UDPConn satisfies
// this directly.
type PacketConn interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Config bundles the construction-time parameters of a Service.
type Config struct {
	Self                     *Node
	LocalNetworkID           uint64
	BootNodes                []*Node
	Conn                     PacketConn
	Reputation               *ReputationStore
	DeathReputationThreshold int
	LocalHasIPv4             bool

	// NodeDBPath, if set, persists every admitted node across restarts
	// (spec.md §4.1 restart-reseed enrichment). Empty uses an in-memory
	// store, so a restart always starts from an empty table.
	NodeDBPath string
}

// Service is the Kademlia UDP discovery service of spec.md §4.3: it
// owns the routing table, the handler registry keyed by socket
// address, and dispatches inbound packets.
type Service struct {
	mu       sync.Mutex
	handlers map[string]*NodeHandler // hostKey -> handler, spec.md §4.3

	table *NodeTable
	conf  Config
	db    *nodeDB

	closed    bool
	closeOnce sync.Once
	stopCh    chan struct{}

	timeoutMu sync.Mutex
	timeouts  map[*NodeHandler]*time.Timer
}

// NewService constructs a Service; call ListenAndServe or feed packets
// via HandleEvent yourself once a transport is wired up.
func NewService(conf Config) *Service {
	s := &Service{
		handlers: make(map[string]*NodeHandler),
		table:    NewNodeTable(conf.Self.ID),
		conf:     conf,
		stopCh:   make(chan struct{}),
		timeouts: make(map[*NodeHandler]*time.Timer),
	}
	if s.conf.DeathReputationThreshold == 0 {
		s.conf.DeathReputationThreshold = defaultDeathReputationThreshold
	}
	db, err := newNodeDB(conf.NodeDBPath)
	if err != nil {
		glog.V(logger.Warn).Infof("discover: opening node database %q: %v; falling back to in-memory", conf.NodeDBPath, err)
		db, _ = newNodeDB("")
	}
	s.db = db
	return s
}

func (s *Service) Table() *NodeTable { return s.table }

// ChannelActivated seeds handlers for every configured boot node, plus
// any node persisted in the node database that answered a pong within
// nodeDBNodeExpiration (spec.md §4.1 restart-reseed enrichment), and
// pings them all, per spec.md §4.3.
func (s *Service) ChannelActivated() {
	for _, n := range s.conf.BootNodes {
		h := s.getOrCreateHandler(n)
		h.SendPing()
	}
	for _, n := range s.db.querySeeds(seedCount, nodeDBNodeExpiration) {
		if n.ID == s.conf.Self.ID {
			continue
		}
		h := s.getOrCreateHandler(n)
		h.SendPing()
	}
}

// ConnectableNodes returns handlers whose node carries a usable
// preferred address (spec.md §4.3 "connectableNodes()").
func (s *Service) ConnectableNodes() []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Node, 0, len(s.handlers))
	for _, h := range s.handlers {
		n := h.Node()
		if _, err := n.PreferredAddr(s.conf.LocalHasIPv4); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// Close stops all pending ping-timeout timers (spec.md §4.3 "close()").
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopCh)

		s.timeoutMu.Lock()
		for h, t := range s.timeouts {
			t.Stop()
			delete(s.timeouts, h)
		}
		s.timeoutMu.Unlock()

		if err := s.db.close(); err != nil {
			glog.V(logger.Warn).Infof("discover: closing node database: %v", err)
		}
	})
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// getOrCreateHandler implements spec.md §4.3's getNodeHandler: O(1)
// lookup by preferred address; trimTable runs before any new handler
// is created.
func (s *Service) getOrCreateHandler(n *Node) *NodeHandler {
	key := hostKey(n)
	s.mu.Lock()
	if h, ok := s.handlers[key]; ok {
		s.mu.Unlock()
		return h
	}
	s.mu.Unlock()

	s.trimTable()

	h := NewNodeHandler(n, s)
	s.mu.Lock()
	s.handlers[key] = h
	s.mu.Unlock()
	return h
}

// remapHandlerKey implements the "atomically remapped" rule of
// spec.md §4.3 when a handler's preferred address changes.
func (s *Service) remapHandlerKey(oldKey string, h *NodeHandler) {
	newKey := hostKey(h.Node())
	if newKey == oldKey {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers[oldKey] == h {
		delete(s.handlers, oldKey)
	}
	s.handlers[newKey] = h
}

// trimTable implements spec.md §4.3's trim policy.
func (s *Service) trimTable() {
	s.mu.Lock()
	if len(s.handlers) <= trimTableHigh {
		s.mu.Unlock()
		return
	}
	type kv struct {
		key string
		h   *NodeHandler
	}
	all := make([]kv, 0, len(s.handlers))
	for k, h := range s.handlers {
		all = append(all, kv{k, h})
	}
	s.mu.Unlock()

	// First pass: drop handlers whose nodes are not connectible.
	remaining := make([]kv, 0, len(all))
	for _, e := range all {
		if !e.h.Node().Connectible(s.conf.LocalNetworkID) {
			s.dropHandler(e.key)
		} else {
			remaining = append(remaining, e)
		}
	}

	s.mu.Lock()
	n := len(s.handlers)
	s.mu.Unlock()
	if n <= trimTableHigh {
		return
	}

	// Second pass: drop by ascending updateTime until <= trimTableLow.
	sortByUpdateTimeAsc(remaining)
	for _, e := range remaining {
		s.mu.Lock()
		if len(s.handlers) <= trimTableLow {
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()
		s.dropHandler(e.key)
	}
}

func sortByUpdateTimeAsc(kvs []struct {
	key string
	h   *NodeHandler
}) {
	for i := 1; i < len(kvs); i++ {
		for j := i; j > 0 && kvs[j].h.Node().UpdateTime.Before(kvs[j-1].h.Node().UpdateTime); j-- {
			kvs[j], kvs[j-1] = kvs[j-1], kvs[j]
		}
	}
}

func (s *Service) dropHandler(key string) {
	s.mu.Lock()
	h, ok := s.handlers[key]
	if ok {
		delete(s.handlers, key)
	}
	s.mu.Unlock()
	if ok {
		s.table.Drop(h.Node())
		s.cancelTimeout(h)
	}
}

// --- handlerHost implementation ---

func (s *Service) tableAdd(n *Node) *Node       { return s.table.Add(n) }
func (s *Service) tableReplace(old, new *Node)  { s.table.Replace(old, new) }
func (s *Service) tableDrop(n *Node)            { s.table.Drop(n) }
func (s *Service) deathReputationThreshold() int { return s.conf.DeathReputationThreshold }
func (s *Service) localNetworkID() uint64        { return s.conf.LocalNetworkID }

func (s *Service) handlerFor(hostKey string) *NodeHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[hostKey]
}

func (s *Service) sendPing(h *NodeHandler) {
	n := h.Node()
	addr, err := n.PreferredAddr(s.conf.LocalHasIPv4)
	if err != nil {
		return
	}
	msg := pingMessage{
		version:   4,
		from:      endpointOf(s.conf.Self),
		to:        endpointOf(n),
		timestamp: time.Now().Unix(),
	}
	s.write(addr, encodePing(msg))
	logPingSent(n)
	s.scheduleTimeout(h)
}

func (s *Service) sendFindNode(h *NodeHandler, target NodeID) {
	n := h.Node()
	addr, err := n.PreferredAddr(s.conf.LocalHasIPv4)
	if err != nil {
		return
	}
	buf := make([]byte, NodeIDLen)
	copy(buf[NodeIDLen-IDLength:], target[:])
	msg := findNeighboursMessage{
		from:      endpointOf(s.conf.Self),
		target:    buf,
		timestamp: time.Now().Unix(),
	}
	s.write(addr, encodeFindNode(msg))
	h.WaitForNeighbors()
	logFindNodeSent(n)
}

func (s *Service) write(addr *net.UDPAddr, b []byte) {
	if s.conf.Conn == nil {
		return
	}
	if _, err := s.conf.Conn.WriteToUDP(b, addr); err != nil {
		glog.V(logger.Warn).Infof("discover: write to %v failed: %v", addr, err)
	}
}

func (s *Service) scheduleTimeout(h *NodeHandler) {
	s.cancelTimeout(h)
	t := time.AfterFunc(pongTimeout, func() {
		if s.isClosed() {
			return
		}
		s.timeoutMu.Lock()
		delete(s.timeouts, h)
		s.timeoutMu.Unlock()
		h.HandlePongTimeout()
	})
	s.timeoutMu.Lock()
	s.timeouts[h] = t
	s.timeoutMu.Unlock()
}

func (s *Service) cancelTimeout(h *NodeHandler) {
	s.timeoutMu.Lock()
	defer s.timeoutMu.Unlock()
	if t, ok := s.timeouts[h]; ok {
		t.Stop()
		delete(s.timeouts, h)
	}
}

// HandleEvent dispatches an inbound UDP packet, per spec.md §4.3's
// `handleEvent(udpPacket, senderAddr)` contract.
func (s *Service) HandleEvent(raw []byte, sender *net.UDPAddr) {
	typ, msg, err := decodePacket(raw)
	if err != nil {
		glog.V(logger.Detail).Infof("discover: dropping packet from %v: %v", sender, err)
		return
	}
	switch typ {
	case kadPing:
		s.handlePing(msg.(pingMessage), sender)
	case kadPong:
		s.handlePong(msg.(pongMessage), sender)
	case kadFindNode:
		s.handleFindNode(msg.(findNeighboursMessage), sender)
	case kadNeighbours:
		s.handleNeighbours(msg.(neighboursMessage), sender)
	}
}

func (s *Service) handlePing(m pingMessage, sender *net.UDPAddr) {
	if !validEndpoint(m.from) {
		return
	}
	remote := m.from.toNode()
	remote.IP4, remote.IP6 = addrIPs(sender, remote)
	remote.Port = uint16(sender.Port)
	remote.BindPort = uint16(sender.Port)
	remote.NetworkID = s.conf.LocalNetworkID
	remote.UpdateTime = time.Now()

	h := s.getOrCreateHandler(remote)
	h.HandlePing(s.conf.LocalNetworkID)
	logPingRecv(remote)

	// Bond back to the sender so its pong can drive DISCOVERED -> ALIVE
	// and table admission (spec.md §4.2's inbound-initiated bonding).
	h.SendPing()

	pong := pongMessage{
		from:      endpointOf(s.conf.Self),
		echo:      int32(m.timestamp),
		timestamp: time.Now().Unix(),
	}
	s.write(sender, encodePong(pong))
	logPongSent(remote)
}

func (s *Service) handlePong(m pongMessage, sender *net.UDPAddr) {
	if !validEndpoint(m.from) {
		return
	}
	h := s.handlerByAddr(sender)
	if h == nil {
		return
	}
	logPongRecv(h.Node())
	s.cancelTimeout(h)
	h.HandlePong(s.conf.LocalNetworkID)
	s.db.updateNode(h.Node())
	s.db.updateLastPong(h.Node().ID, time.Now())
}

func (s *Service) handleFindNode(m findNeighboursMessage, sender *net.UDPAddr) {
	if !validEndpoint(m.from) {
		return
	}
	h := s.handlerByAddr(sender)
	if h == nil || h.State() != StateActive {
		return // only respond to already-validated peers
	}
	var target NodeID
	n := len(m.target)
	if n > IDLength {
		n = IDLength
	}
	copy(target[:], m.target[len(m.target)-n:])

	closest := s.table.Closest(target)
	endpoints := make([]endpoint, 0, len(closest))
	for _, cn := range closest {
		if cn.ID == s.conf.Self.ID {
			continue // self-filter, spec.md §4.2
		}
		endpoints = append(endpoints, endpointOf(cn))
	}
	resp := neighboursMessage{
		from:       endpointOf(s.conf.Self),
		neighbours: endpoints,
		timestamp:  time.Now().Unix(),
	}
	body, err := encodeNeighbours(resp)
	if err != nil {
		return
	}
	s.write(sender, body)
	logFindNodeRecv(h.Node())
	logNeighboursSent(h.Node(), len(endpoints))
}

func (s *Service) handleNeighbours(m neighboursMessage, sender *net.UDPAddr) {
	if !validEndpoint(m.from) {
		return
	}
	h := s.handlerByAddr(sender)
	if h == nil || !h.AcceptNeighbors() {
		glog.V(logger.Warn).Infof("discover: unsolicited neighbours from %v", sender)
		return
	}
	logNeighboursRecv(h.Node(), len(m.neighbours))
	for _, e := range m.neighbours {
		if !validEndpoint(e) {
			continue
		}
		if e.hasID && e.nodeID == s.conf.Self.ID {
			continue // self-filter, spec.md §4.2
		}
		n := e.toNode()
		n.NetworkID = s.conf.LocalNetworkID
		n.UpdateTime = time.Now()
		nh := s.getOrCreateHandler(n)
		nh.SendPing()
	}
}

func (s *Service) handlerByAddr(addr *net.UDPAddr) *NodeHandler {
	key := fmt.Sprintf("%s/%d", addr.IP.String(), addr.Port)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[key]
}

func addrIPs(sender *net.UDPAddr, advertised *Node) (ip4, ip6 net.IP) {
	if v4 := sender.IP.To4(); v4 != nil {
		return v4, advertised.IP6
	}
	return advertised.IP4, sender.IP
}
