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

package dnsdisc

import (
	"encoding/base64"
	"reflect"
	"testing"
)

// TestPeerListRoundTrip covers testable property 5 and scenario S4: a
// NodesEntry payload survives snappy-compress / base64-encode and the
// reverse without loss.
func TestPeerListRoundTrip(t *testing.T) {
	nodes := []DNSNode{
		{HasID: true, ID: "abc123", IPv4: "10.0.0.1", IPv6: "", Port: 30303},
		{HasID: false, IPv4: "192.168.1.1", IPv6: "::1", Port: 30304},
	}
	raw := encodePeerList(nodes)
	compressed := snappyEncode(raw)
	text := nodesPrefix + base64.StdEncoding.EncodeToString(compressed)

	e, err := parseNodes(text)
	if err != nil {
		t.Fatalf("parseNodes: %v", err)
	}
	if !reflect.DeepEqual(e.nodes, nodes) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", e.nodes, nodes)
	}
}

func TestPeerListEmpty(t *testing.T) {
	raw := encodePeerList(nil)
	list, err := decodePeerList(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}
}

func TestParseNodesViaFullEntry(t *testing.T) {
	nodes := []DNSNode{{HasID: true, ID: "z", IPv4: "1.2.3.4", Port: 1}}
	raw := encodePeerList(nodes)
	text := nodesPrefix + base64.StdEncoding.EncodeToString(snappyEncode(raw))

	got, err := parseEntry(text)
	if err != nil {
		t.Fatal(err)
	}
	ne, ok := got.(nodesEntry)
	if !ok {
		t.Fatalf("parseEntry returned %T, want nodesEntry", got)
	}
	if !reflect.DeepEqual(ne.nodes, nodes) {
		t.Fatalf("mismatch: got %+v, want %+v", ne.nodes, nodes)
	}
}
