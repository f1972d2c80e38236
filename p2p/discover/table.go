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

// Package discover implements the Kademlia-like peer discovery protocol
// described in spec.md: a UDP ping/pong/find-node/neighbors wire
// protocol, an XOR-distance routing table with k-buckets, a per-peer
// handler state machine, and a persisted reputation score.
package discover

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/xdagj/xdagj-p2p-go/logger"
	"github.com/xdagj/xdagj-p2p-go/logger/glog"
	"github.com/xdagj/xdagj-p2p-go/p2p/distip"
)

const (
	// NBuckets is the number of k-buckets (spec.md §2 row B).
	NBuckets = 256
	// BucketSize is K, the maximum bucket size (spec.md glossary).
	BucketSize = 16

	// IP diversity limits, adapted from the teacher's bucketIPLimit/
	// tableIPLimit constants in p2p/discover/table.go; spec.md doesn't
	// name these, but the teacher's habit of bounding how many entries
	// from one /24 may share a bucket/table is a reasonable diversity
	// enrichment kept from the teacher's own design.
	bucketIPLimit, bucketSubnet = 2, 24
	tableIPLimit, tableSubnet   = 10, 24
)

// NodeBucket is the ordered list of at most BucketSize NodeEntrys
// described in spec.md §3. The most recently touched entry is first.
type NodeBucket struct {
	entries []*NodeEntry
	ips     distip.DistinctNetSet
}

func newNodeBucket() *NodeBucket {
	return &NodeBucket{
		ips: distip.DistinctNetSet{Subnet: bucketSubnet, Limit: bucketIPLimit},
	}
}

// bump moves an existing entry with the same id to the front, touching
// it, and returns it (nil if not found).
func (b *NodeBucket) bump(id NodeID) *NodeEntry {
	for i, e := range b.entries {
		if e.Node.ID == id {
			e.touch()
			copy(b.entries[1:i+1], b.entries[:i])
			b.entries[0] = e
			return e
		}
	}
	return nil
}

// addNode implements spec.md §4.1's "addNode(e)": either append if
// there's space, or return the least-recently-seen entry as an
// eviction candidate.
func (b *NodeBucket) addNode(e *NodeEntry) (evictionCandidate *NodeEntry, added bool) {
	if bumped := b.bump(e.Node.ID); bumped != nil {
		return nil, true
	}
	if len(b.entries) < BucketSize {
		b.entries = append([]*NodeEntry{e}, b.entries...)
		return nil, true
	}
	// Bucket is full: the least-recently-seen entry is the last one,
	// since entries are kept sorted most-recent-first.
	return b.entries[len(b.entries)-1], false
}

// replace swaps out the given (stale) entry for a new one. The caller
// has already decided, via the handler state machine, that old lost
// the eviction contest.
func (b *NodeBucket) replace(oldID NodeID, new *NodeEntry) bool {
	for i, e := range b.entries {
		if e.Node.ID == oldID {
			b.entries[i] = new
			return true
		}
	}
	return false
}

func (b *NodeBucket) drop(id NodeID) bool {
	for i, e := range b.entries {
		if e.Node.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// NodeTable is the 256-bucket routing table described in spec.md §3/§4.1.
type NodeTable struct {
	mu      sync.Mutex
	self    NodeID
	selfSha [32]byte
	buckets [NBuckets]*NodeBucket
	byHost  map[string]*NodeEntry // hostKey -> NodeEntry, per spec.md §3
	ips     distip.DistinctNetSet

	nodeAddedHook func(*Node) // for tests, mirrors the teacher's nodeAddedHook
}

// NewNodeTable constructs an empty table for the given local node id.
// The local node is never admitted (spec.md §3, §4.1).
func NewNodeTable(self NodeID) *NodeTable {
	t := &NodeTable{
		self:    self,
		selfSha: keccak256(self[:]),
		byHost:  make(map[string]*NodeEntry),
		ips:     distip.DistinctNetSet{Subnet: tableSubnet, Limit: tableIPLimit},
	}
	for i := range t.buckets {
		t.buckets[i] = newNodeBucket()
	}
	return t
}

func hostKey(n *Node) string {
	ip := n.preferredIP(true)
	return fmt.Sprintf("%s/%d", ip.String(), n.Port)
}

// bucketFor returns the bucket a node hashes into, relative to the
// local node id (spec.md §4.1).
func (t *NodeTable) bucketFor(id NodeID) *NodeBucket {
	return t.buckets[bucketIndex(t.selfSha, keccak256(id[:]))]
}

// Add implements the `add(node) -> Option<Node>` contract of spec.md
// §4.1: returns the eviction candidate if the bucket is full,
// otherwise inserts and returns nil. A node that would exceed the
// table or bucket IP-diversity limit is not inserted, and Add returns
// nil for it as well.
func (t *NodeTable) Add(n *Node) *Node {
	if n.ID == t.self {
		return nil // the local node is never admitted
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketFor(n.ID)
	if existing := b.bump(n.ID); existing != nil {
		existing.Node = n
		return nil
	}
	if !t.addIP(b, n.preferredIP(true)) {
		return nil
	}
	e := newNodeEntry(n, bucketIndex(t.selfSha, keccak256(n.ID[:])))
	cand, added := b.addNode(e)
	if added {
		t.byHost[hostKey(n)] = e
		if t.nodeAddedHook != nil {
			t.nodeAddedHook(n)
		}
		return nil
	}
	t.removeIP(b, n.preferredIP(true))
	return cand.Node
}

// Replace substitutes the stale eviction candidate for the new node
// once the handler state machine has decided old lost the challenge.
func (t *NodeTable) Replace(old, new *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bucketFor(old.ID)
	ne := newNodeEntry(new, bucketIndex(t.selfSha, keccak256(new.ID[:])))
	if b.replace(old.ID, ne) {
		delete(t.byHost, hostKey(old))
		t.byHost[hostKey(new)] = ne
		t.removeIP(b, old.preferredIP(true))
		t.addIP(b, new.preferredIP(true))
	}
}

// Drop implements spec.md §4.1's `drop(node)`.
func (t *NodeTable) Drop(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bucketFor(n.ID)
	if b.drop(n.ID) {
		delete(t.byHost, hostKey(n))
		t.removeIP(b, n.preferredIP(true))
	}
}

// Touch implements spec.md §4.1's `touch(node)`.
func (t *NodeTable) Touch(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bucketFor(n.ID).bump(n.ID)
}

// Contains implements spec.md §4.1's `contains(node)`.
func (t *NodeTable) Contains(id NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.bucketFor(id).entries {
		if e.Node.ID == id {
			return true
		}
	}
	return false
}

// Lookup returns the node currently stored for id, or nil.
func (t *NodeTable) Lookup(id NodeID) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.bucketFor(id).entries {
		if e.Node.ID == id {
			return e.Node
		}
	}
	return nil
}

// ByHost looks up a previously admitted node by its preferred-address
// host key. Used by the Kademlia service to remap handlers when a
// node's preferred address changes (spec.md §4.3).
func (t *NodeTable) ByHost(key string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byHost[key]; ok {
		return e.Node
	}
	return nil
}

// Closest implements spec.md §4.1's `closest(targetId) -> list<Node>`:
// a linear scan of all entries, sorted by XOR distance to target,
// truncated to K. This also satisfies testable property 9: every node
// not in the result has distance >= the max distance in the result.
func (t *NodeTable) Closest(target NodeID) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	targetHash := keccak256(target[:])
	type scored struct {
		n    *Node
		hash [32]byte
	}
	all := make([]scored, 0, t.lenLocked())
	for _, b := range t.buckets {
		for _, e := range b.entries {
			all = append(all, scored{e.Node, keccak256(e.Node.ID[:])})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return distcmp(targetHash, all[i].hash, all[j].hash) < 0
	})
	if len(all) > BucketSize {
		all = all[:BucketSize]
	}
	out := make([]*Node, len(all))
	for i, s := range all {
		out[i] = s.n
	}
	return out
}

func (t *NodeTable) lenLocked() (n int) {
	for _, b := range t.buckets {
		n += len(b.entries)
	}
	return n
}

// Len returns the total number of entries currently admitted.
func (t *NodeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lenLocked()
}

// All returns every admitted node, for diagnostics/tests
// (spec.md S1 references table.getTableNodes()).
func (t *NodeTable) All() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Node, 0, t.lenLocked())
	for _, b := range t.buckets {
		for _, e := range b.entries {
			out = append(out, e.Node)
		}
	}
	return out
}

func (t *NodeTable) addIP(b *NodeBucket, ip net.IP) bool {
	if ip == nil || distip.IsLAN(ip) {
		return true
	}
	if !t.ips.Add(ip) {
		glog.V(logger.Debug).Infof("discover: table IP limit exceeded for %v", ip)
		return false
	}
	if !b.ips.Add(ip) {
		glog.V(logger.Debug).Infof("discover: bucket IP limit exceeded for %v", ip)
		t.ips.Remove(ip)
		return false
	}
	return true
}

func (t *NodeTable) removeIP(b *NodeBucket, ip net.IP) {
	if ip == nil || distip.IsLAN(ip) {
		return
	}
	t.ips.Remove(ip)
	b.ips.Remove(ip)
}
