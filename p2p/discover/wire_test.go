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
	"reflect"
	"testing"
)

func TestPingRoundTrip(t *testing.T) {
	var id NodeID
	id[0] = 0x11
	want := pingMessage{
		version:   4,
		from:      endpoint{nodeID: id, hasID: true, ipv4: "1.2.3.4", port: 30303},
		to:        endpoint{ipv4: "5.6.7.8", port: 30303},
		timestamp: 1234567890,
	}
	raw := encodePing(want)
	if raw[0] != kadPing {
		t.Fatalf("expected type byte 0x01, got 0x%02x", raw[0])
	}
	typ, msg, err := decodePacket(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if typ != kadPing {
		t.Fatalf("wrong type byte round-tripped: 0x%02x", typ)
	}
	got := msg.(pingMessage)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestPongRoundTrip(t *testing.T) {
	want := pongMessage{
		from:      endpoint{ipv6: "::1", port: 40404},
		echo:      42,
		timestamp: 99,
	}
	raw := encodePong(want)
	typ, msg, err := decodePacket(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if typ != kadPong {
		t.Fatalf("wrong type byte: 0x%02x", typ)
	}
	got := msg.(pongMessage)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestFindNodeRoundTrip(t *testing.T) {
	target := make([]byte, NodeIDLen)
	for i := range target {
		target[i] = byte(i)
	}
	want := findNeighboursMessage{
		from:      endpoint{ipv4: "1.1.1.1", port: 1},
		target:    target,
		timestamp: 7,
	}
	raw := encodeFindNode(want)
	typ, msg, err := decodePacket(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if typ != kadFindNode {
		t.Fatalf("wrong type byte: 0x%02x", typ)
	}
	got := msg.(findNeighboursMessage)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestNeighboursRejectsOverBucketSize(t *testing.T) {
	neighbours := make([]endpoint, maxNeighbours+1)
	for i := range neighbours {
		neighbours[i] = endpoint{ipv4: "1.2.3.4", port: 1}
	}
	_, err := encodeNeighbours(neighboursMessage{neighbours: neighbours})
	if err != errTooManyNodes {
		t.Fatalf("expected errTooManyNodes, got %v", err)
	}
}

func TestNeighboursRoundTrip(t *testing.T) {
	want := neighboursMessage{
		from: endpoint{ipv4: "9.9.9.9", port: 2},
		neighbours: []endpoint{
			{ipv4: "1.2.3.4", port: 30303},
			{ipv6: "::1", port: 40404},
		},
		timestamp: 55,
	}
	raw, err := encodeNeighbours(want)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	typ, msg, err := decodePacket(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if typ != kadNeighbours {
		t.Fatalf("wrong type byte: 0x%02x", typ)
	}
	got := msg.(neighboursMessage)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, _, err := decodePacket([]byte{0xff})
	if err != errUnknownType {
		t.Fatalf("expected errUnknownType, got %v", err)
	}
}

func TestDecodeEmptyPacket(t *testing.T) {
	_, _, err := decodePacket(nil)
	if err != errPacketTooShort {
		t.Fatalf("expected errPacketTooShort, got %v", err)
	}
}

func TestValidEndpoint(t *testing.T) {
	cases := []struct {
		e    endpoint
		want bool
	}{
		{endpoint{ipv4: "1.2.3.4", port: 1}, true},
		{endpoint{ipv6: "::1", port: 1}, true},
		{endpoint{port: 1}, false},             // no IP at all
		{endpoint{ipv4: "1.2.3.4", port: 0}, false},
		{endpoint{ipv4: "not-an-ip", port: 1}, false},
	}
	for i, c := range cases {
		if got := validEndpoint(c.e); got != c.want {
			t.Fatalf("case %d: validEndpoint(%+v) = %v, want %v", i, c.e, got, c.want)
		}
	}
}
