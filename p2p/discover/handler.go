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
	"sync"

	"github.com/xdagj/xdagj-p2p-go/logger"
	"github.com/xdagj/xdagj-p2p-go/logger/glog"
)

// State is a NodeHandler's lifecycle state (spec.md §4.2).
type State int

const (
	StateDiscovered State = iota
	StateAlive
	StateActive
	StateEvictCandidate
	StateDead
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "DISCOVERED"
	case StateAlive:
		return "ALIVE"
	case StateActive:
		return "ACTIVE"
	case StateEvictCandidate:
		return "EVICTCANDIDATE"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

const (
	initialPingTrials = 2 // spec.md §3 NodeHandler.pingTrialsLeft

	repMin, repMax, repNeutral = 0, 200, 100 // spec.md §3 reputation bounds
	repPongReward              = 5
	repTimeoutPenalty          = 5

	// defaultDeathReputationThreshold is the configurable threshold from
	// spec.md §4.2's "reputation-aware death" rule.
	defaultDeathReputationThreshold = 20
)

// handlerHost is the narrow interface a NodeHandler uses to reach back
// into the owning Kademlia service, per the design note in spec.md §9:
// "service owns handlers; handlers hold a back-reference by stable key
// ... not by pointer. All inter-handler operations ... go through the
// service's handler map." This avoids a handler<->service pointer cycle.
type handlerHost interface {
	sendPing(h *NodeHandler)
	sendFindNode(h *NodeHandler, target NodeID)
	tableAdd(n *Node) *Node // returns eviction candidate, or nil
	tableReplace(old, new *Node)
	tableDrop(n *Node)
	handlerFor(hostKey string) *NodeHandler
	deathReputationThreshold() int
	localNetworkID() uint64
}

// NodeHandler is the per-peer state machine from spec.md §4.2/§3.
type NodeHandler struct {
	mu sync.Mutex

	node  *Node
	state State

	waitingForPong      bool
	waitingForNeighbors bool
	pingTrialsLeft      int

	// challenger is set on an incumbent handler while it is being
	// contested for a full bucket slot (state EVICTCANDIDATE); it names
	// the node that will take its place if it fails to respond.
	challenger *Node

	reputation int // spec.md §3, clamped to [0,200], neutral 100

	host handlerHost
}

// NewNodeHandler creates a handler in the DISCOVERED state.
func NewNodeHandler(n *Node, host handlerHost) *NodeHandler {
	return &NodeHandler{
		node:           n,
		state:          StateDiscovered,
		pingTrialsLeft: initialPingTrials,
		reputation:     repNeutral,
		host:           host,
	}
}

func (h *NodeHandler) Node() *Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.node
}

func (h *NodeHandler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *NodeHandler) Reputation() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reputation
}

func (h *NodeHandler) setState(s State) {
	glog.V(logger.Detail).Infof("discover: handler %s %s -> %s", h.node.ID, h.state, s)
	h.state = s
}

func (h *NodeHandler) bumpReputation(delta int) {
	h.reputation += delta
	if h.reputation > repMax {
		h.reputation = repMax
	}
	if h.reputation < repMin {
		h.reputation = repMin
	}
}

// SendPing transitions into the waiting-for-pong phase and asks the
// host to actually emit the ping. At most one ping may be outstanding
// per handler (testable property 3).
func (h *NodeHandler) SendPing() {
	h.mu.Lock()
	if h.waitingForPong {
		h.mu.Unlock()
		return
	}
	h.waitingForPong = true
	h.mu.Unlock()
	h.host.sendPing(h)
}

// HandlePongTimeout implements the ping-trial retry rule from spec.md
// §4.2: decrement trials; if any remain, resend; else treat as failed
// (penalize reputation, and either die or enter a grace period).
func (h *NodeHandler) HandlePongTimeout() {
	h.mu.Lock()
	h.waitingForPong = false
	h.pingTrialsLeft--
	trialsLeft := h.pingTrialsLeft
	state := h.state
	h.bumpReputation(-repTimeoutPenalty)
	rep := h.reputation
	h.mu.Unlock()

	if trialsLeft > 0 {
		h.SendPing()
		return
	}

	switch state {
	case StateActive:
		if rep >= h.host.deathReputationThreshold() {
			// Reputation-aware grace period: stay ACTIVE.
			glog.V(logger.Debug).Infof("discover: handler %s exhausted ping trials but rep=%d, granted grace", h.node.ID, rep)
			return
		}
		h.toDead()
	case StateEvictCandidate:
		// Pong timeout while contesting eviction: the challenger wins.
		h.toDeadEvicted()
	default:
		h.toDead()
	}
}

// HandlePong implements the pong-received transitions of spec.md §4.2.
// networkID is the remote's advertised network id; a mismatch forces
// DEAD per the "Compatibility" rule.
func (h *NodeHandler) HandlePong(networkID uint64) {
	h.mu.Lock()
	if networkID != h.host.localNetworkID() {
		h.mu.Unlock()
		h.toDead()
		return
	}
	h.waitingForPong = false
	h.pingTrialsLeft = initialPingTrials
	h.bumpReputation(repPongReward)
	state := h.state
	h.mu.Unlock()

	switch state {
	case StateDiscovered:
		h.mu.Lock()
		h.setState(StateAlive)
		h.mu.Unlock()
		h.admitToTable()
	case StateEvictCandidate:
		// The challenged incumbent survived.
		h.mu.Lock()
		h.setState(StateActive)
		h.mu.Unlock()
	default:
		// ALIVE/ACTIVE receiving an extra pong: no transition needed.
	}
}

// admitToTable implements the ALIVE -> ACTIVE/DEAD branch of spec.md
// §4.2's diagram: "table addNode: full? no -> ACTIVE; full? yes & old
// node wins -> DEAD; full? yes & new node wins -> ACTIVE (old handler
// EVICTCANDIDATE -> DEAD)".
func (h *NodeHandler) admitToTable() {
	cand := h.host.tableAdd(h.node)
	if cand == nil {
		h.mu.Lock()
		h.setState(StateActive)
		h.mu.Unlock()
		return
	}
	// Bucket is full. Challenge the existing occupant.
	old := h.host.handlerFor(hostKeyForNode(cand))
	if old == nil {
		// We have no handler for the incumbent (e.g. it predates this
		// service instance); admit optimistically.
		h.host.tableReplace(cand, h.node)
		h.mu.Lock()
		h.setState(StateActive)
		h.mu.Unlock()
		return
	}
	old.mu.Lock()
	old.setState(StateEvictCandidate)
	old.challenger = h.node
	old.mu.Unlock()
	old.SendPing()
}

// toDeadEvicted is called on the incumbent when it loses an eviction
// challenge (pong timeout while EVICTCANDIDATE): the challenger node
// takes its place in the table.
func (h *NodeHandler) toDeadEvicted() {
	h.mu.Lock()
	h.setState(StateDead)
	node, challenger := h.node, h.challenger
	h.mu.Unlock()
	h.host.tableReplace(node, challenger)
}

func (h *NodeHandler) toDead() {
	h.mu.Lock()
	h.setState(StateDead)
	node := h.node
	h.mu.Unlock()
	h.host.tableDrop(node)
}

// HandlePing implements the "ping from compatible peer" edges of
// spec.md §4.2: revives a DEAD handler to DISCOVERED, and rejects an
// incompatible peer outright (transitions straight to DEAD).
func (h *NodeHandler) HandlePing(networkID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if networkID != h.host.localNetworkID() {
		h.setState(StateDead)
		return
	}
	if h.state == StateDead {
		h.setState(StateDiscovered)
		h.pingTrialsLeft = initialPingTrials
	}
}

// WaitForNeighbors marks that a KAD_FIND_NODE was sent and a
// KAD_NEIGHBORS response is now expected (spec.md §4.2 "Find-node
// acceptance").
func (h *NodeHandler) WaitForNeighbors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waitingForNeighbors = true
}

// AcceptNeighbors reports whether an incoming KAD_NEIGHBORS should be
// processed, clearing the waiting flag either way (unsolicited
// neighbor lists are dropped to prevent amplification).
func (h *NodeHandler) AcceptNeighbors() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.waitingForNeighbors {
		return false
	}
	h.waitingForNeighbors = false
	return true
}

func hostKeyForNode(n *Node) string {
	return hostKey(n)
}
