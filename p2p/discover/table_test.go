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
)

func testNode(b byte, ip string) *Node {
	var id NodeID
	id[0] = b
	return &Node{ID: id, IP4: net.ParseIP(ip).To4(), Port: 30303, BindPort: 30303}
}

// testable property 1: for all states of T, every bucket has <= 16 entries.
// Exercised directly on NodeBucket since NodeTable routes entries to a
// bucket by the XOR distance of their keccak256 hash, which is not
// practically steerable from raw test node ids.
func TestTableBucketSizeLimit(t *testing.T) {
	b := newNodeBucket()
	for i := 0; i < 40; i++ {
		n := testNode(byte(i+1), "10.0.0.1")
		n.IP4 = net.IPv4(10, 0, byte(i/4), byte(i%4+1))
		e := newNodeEntry(n, 0)
		b.addNode(e)
	}
	if len(b.entries) > BucketSize {
		t.Fatalf("bucket exceeded BucketSize: %d", len(b.entries))
	}
}

// S2: bucket eviction candidate selection, exercised directly on
// NodeBucket for the same reason as TestTableBucketSizeLimit.
func TestAddNodeEvictionCandidate(t *testing.T) {
	b := newNodeBucket()

	var first *Node
	for i := 0; i < BucketSize; i++ {
		n := testNode(byte(i+1), "10.0.0.1")
		n.IP4 = net.IPv4(10, 0, byte(i/2), byte(i%2+1))
		if i == 0 {
			first = n
		}
		if cand, added := b.addNode(newNodeEntry(n, 0)); cand != nil || !added {
			t.Fatalf("unexpected eviction candidate while bucket not full")
		}
	}
	if len(b.entries) != BucketSize {
		t.Fatalf("want %d entries, got %d", BucketSize, len(b.entries))
	}

	overflow := testNode(0xfe, "10.0.9.9")
	cand, added := b.addNode(newNodeEntry(overflow, 0))
	if added || cand == nil {
		t.Fatalf("expected an eviction candidate when bucket is full")
	}
	if len(b.entries) != BucketSize {
		t.Fatalf("bucket size changed on rejected insert: %d", len(b.entries))
	}
	if cand.Node.ID != first.ID {
		t.Fatalf("expected least-recently-touched (%v) as candidate, got %v", first.ID, cand.Node.ID)
	}
}

// testable property 9: Closest's distance guarantee.
func TestClosestDistanceGuarantee(t *testing.T) {
	var self NodeID
	tab := NewNodeTable(self)
	for i := 0; i < 40; i++ {
		n := testNode(byte(i+1), "10.0.0.1")
		n.IP4 = net.IPv4(10, byte(i/8), byte(i%8), 1)
		tab.Add(n)
	}
	var target NodeID
	target[0] = 0x42
	result := tab.Closest(target)
	if len(result) > BucketSize {
		t.Fatalf("closest returned more than K results: %d", len(result))
	}

	targetHash := keccak256(target[:])
	var maxInResult [32]byte
	for i, n := range result {
		h := keccak256(n.ID[:])
		if i == 0 || distcmp(targetHash, h, maxInResult) > 0 {
			maxInResult = h
		}
	}
	all := tab.All()
	resultSet := make(map[NodeID]bool, len(result))
	for _, n := range result {
		resultSet[n.ID] = true
	}
	for _, n := range all {
		if resultSet[n.ID] {
			continue
		}
		h := keccak256(n.ID[:])
		if distcmp(targetHash, h, maxInResult) < 0 {
			t.Fatalf("node %v excluded from closest but is nearer than the included set", n.ID)
		}
	}
}

func TestDropAndContains(t *testing.T) {
	var self NodeID
	tab := NewNodeTable(self)
	n := testNode(0x11, "10.1.1.1")
	tab.Add(n)
	if !tab.Contains(n.ID) {
		t.Fatalf("expected table to contain added node")
	}
	tab.Drop(n)
	if tab.Contains(n.ID) {
		t.Fatalf("expected table to no longer contain dropped node")
	}
}

func TestLocalNodeNeverAdmitted(t *testing.T) {
	var self NodeID
	self[0] = 0x77
	tab := NewNodeTable(self)
	n := &Node{ID: self, IP4: net.ParseIP("10.1.1.1").To4(), Port: 1}
	tab.Add(n)
	if tab.Len() != 0 {
		t.Fatalf("local node must never be admitted to its own table")
	}
}
