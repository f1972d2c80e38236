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
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/sha3"
)

// IDLength is the length, in bytes, of a node identifier (spec.md §2 row A).
const IDLength = 20

// NodeID uniquely identifies a peer. It is derived from the last 20
// bytes of the Keccak256 hash of the uncompressed secp256k1 public key,
// following the teacher's crypto.Keccak256Hash-based identity idiom.
type NodeID [IDLength]byte

// String renders the node id as a hex string.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// PubkeyToNodeID derives a NodeID from a secp256k1 public key.
func PubkeyToNodeID(pub *ecdsa.PublicKey) NodeID {
	buf := make([]byte, 64)
	pub.X.FillBytes(buf[:32])
	pub.Y.FillBytes(buf[32:])
	h := sha3.NewLegacyKeccak256()
	h.Write(buf)
	sum := h.Sum(nil)
	var id NodeID
	copy(id[:], sum[len(sum)-IDLength:])
	return id
}

// HexNodeID parses a hex-encoded node id, tolerating an optional "0x" prefix.
func HexNodeID(s string) (NodeID, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, err
	}
	if len(b) != IDLength {
		return NodeID{}, fmt.Errorf("discover: node id must be %d bytes, got %d", IDLength, len(b))
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// keccak256 is the hash used to derive bucket-distance keys for ids of
// non-standard length (e.g. the 64-byte random lookup targets used by
// the discover loop, per the Open Question in spec.md §9). Hashing both
// sides to a fixed 32-byte digest before computing distance sidesteps
// the "left-pad the shorter id" question entirely and is the approach
// the teacher itself uses (crypto.Keccak256Hash(id[:])) before bucketing.
func keccak256(b []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Node is the identity and addressing record for a remote peer
// (spec.md §3 "Node"). Its observable fields are referenced by every
// component in this module; the wire encoding of the base record
// itself is treated as an external concern (spec.md §1), so Node here
// only carries the fields this module reads or writes.
type Node struct {
	ID NodeID

	IP4 net.IP // nil if the peer did not advertise an IPv4 endpoint
	IP6 net.IP // nil if the peer did not advertise an IPv6 endpoint

	Port     uint16
	BindPort uint16

	NetworkID      uint64
	NetworkVersion uint64

	UpdateTime time.Time
}

// Equal implements the equality rule from spec.md §3: two nodes are
// equal iff their ids match (when both present); otherwise by
// (hostPreferred, port).
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if !n.ID.IsZero() && !other.ID.IsZero() {
		return n.ID == other.ID
	}
	ha, pa := n.PreferredIP(), n.Port
	hb, pb := other.PreferredIP(), other.Port
	return pa == pb && ha != nil && hb != nil && ha.Equal(hb)
}

// Connectible reports whether n is connectible under the given local
// network id, per spec.md §3: port == bindPort and networkId matches.
func (n *Node) Connectible(localNetworkID uint64) bool {
	return n.Port == n.BindPort && n.NetworkID == localNetworkID
}

// PreferredIP implements the address preference rule from spec.md §3
// for a local node that advertises IPv4: IP4 when set, otherwise IP6.
// PreferredAddr takes the local preference as a parameter.
func (n *Node) PreferredIP() net.IP {
	return n.preferredIP(true)
}

func (n *Node) preferredIP(localHasIPv4 bool) net.IP {
	if localHasIPv4 && n.IP4 != nil {
		return n.IP4
	}
	if n.IP6 != nil {
		return n.IP6
	}
	return n.IP4
}

// PreferredAddr returns the "preferred socket address" (glossary) for
// dialing or keying a handler map, under the given local preference.
func (n *Node) PreferredAddr(localHasIPv4 bool) (*net.UDPAddr, error) {
	ip := n.preferredIP(localHasIPv4)
	if ip == nil {
		return nil, errors.New("discover: node has no usable address")
	}
	return &net.UDPAddr{IP: ip, Port: int(n.Port)}, nil
}

func (n *Node) String() string {
	return fmt.Sprintf("Node{%s %s:%d}", n.ID, n.preferredIP(true), n.Port)
}

// NodeEntry is the table-resident wrapper described in spec.md §3: it
// holds the node plus its precomputed distance-prefix bucket index and
// a last-touched timestamp used for LRU eviction-candidate selection.
type NodeEntry struct {
	Node     *Node
	Bucket   int
	lastSeen time.Time
	addedAt  time.Time
}

func newNodeEntry(n *Node, bucket int) *NodeEntry {
	now := time.Now()
	return &NodeEntry{Node: n, Bucket: bucket, lastSeen: now, addedAt: now}
}

// touch updates the entry's last-seen time (spec.md §3 "touch()").
func (e *NodeEntry) touch() {
	e.lastSeen = time.Now()
}

func (e *NodeEntry) LastSeen() time.Time { return e.lastSeen }
func (e *NodeEntry) AddedAt() time.Time  { return e.addedAt }
