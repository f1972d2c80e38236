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

import "testing"

func TestRandomIteratorYieldsKnownPeer(t *testing.T) {
	peers := []DNSNode{
		{HasID: true, ID: "n1", IPv4: "1.2.3.4", Port: 30303},
		{HasID: true, ID: "n2", IPv4: "5.6.7.8", Port: 30303},
	}
	res, url, _ := buildTestTree(t, "iter.example.org", 1, peers)
	c := NewClient(Config{Resolver: res})

	it, err := c.NewIterator(url)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	seen := make(map[string]bool)
	for i := 0; i < 20 && len(seen) < len(peers); i++ {
		if !it.Next() {
			break
		}
		n := it.Node()
		if n == nil {
			t.Fatal("Next returned true but Node is nil")
		}
		seen[n.ID] = true
	}
	for _, p := range peers {
		if !seen[p.ID] {
			t.Fatalf("iterator never yielded %s after repeated Next calls", p.ID)
		}
	}
}

func TestRandomIteratorCloseStopsIteration(t *testing.T) {
	peers := []DNSNode{{HasID: true, ID: "n1", IPv4: "1.2.3.4", Port: 1}}
	res, url, _ := buildTestTree(t, "iterclose.example.org", 1, peers)
	c := NewClient(Config{Resolver: res})

	it, err := c.NewIterator(url)
	if err != nil {
		t.Fatal(err)
	}
	it.Close()
	if it.Next() {
		t.Fatal("Next should return false after Close")
	}
}
