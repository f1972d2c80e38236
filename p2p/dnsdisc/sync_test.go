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
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

// fakeResolver serves TXT records out of an in-memory map, keyed by
// domain name, mirroring the corpus's habit of a map-backed fake DNS
// directory for sync tests.
type fakeResolver map[string][]string

func (f fakeResolver) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	recs, ok := f[domain]
	if !ok {
		return nil, fmt.Errorf("dnsdisc test: no records for %s", domain)
	}
	return recs, nil
}

// buildTestTree constructs a minimal single-node tree (one root, one
// nodes entry, an empty link subtree) signed with key, and returns the
// fakeResolver plus the tree:// URL to reach it.
func buildTestTree(t *testing.T, domain string, seq uint32, peers []DNSNode) (fakeResolver, string, *btcec.PrivateKey) {
	t.Helper()
	key := mustGenKey(t)
	res := make(fakeResolver)

	nodesText := nodesPrefix + base64.StdEncoding.EncodeToString(snappyEncode(encodePeerList(peers)))
	nodesHash := hashEntry(nodesText)
	res[nodesHash+"."+domain] = []string{nodesText}

	linkText := branchPrefix // empty link subtree
	linkHash := hashEntry(linkText)
	res[linkHash+"."+domain] = []string{linkText}

	r := rootEntry{eroot: nodesHash, lroot: linkHash, seq: seq}
	r = signRoot(t, key, r)
	res[domain] = []string{rootText(r)}

	pubEncoded := b32format.EncodeToString(key.PubKey().SerializeCompressed())
	url := linkPrefix + pubEncoded + "@" + domain
	return res, url, key
}

// TestSyncTreeFull exercises client.SyncTree end to end, resolving
// both subtrees and recovering the original peer list.
func TestSyncTreeFull(t *testing.T) {
	peers := []DNSNode{{HasID: true, ID: "n1", IPv4: "1.2.3.4", Port: 30303}}
	res, url, _ := buildTestTree(t, "nodes.example.org", 1, peers)

	c := NewClient(Config{Resolver: res})
	entries, err := c.SyncTree(context.Background(), url)
	if err != nil {
		t.Fatalf("SyncTree: %v", err)
	}
	var found bool
	for _, e := range entries {
		if ne, ok := e.(nodesEntry); ok {
			found = true
			if len(ne.nodes) != 1 || ne.nodes[0].ID != "n1" {
				t.Fatalf("unexpected nodes entry: %+v", ne.nodes)
			}
		}
	}
	if !found {
		t.Fatal("no nodesEntry resolved")
	}
}

// TestUpdateRootIdempotent covers testable property 6: calling
// updateRoot again with an unchanged (or lower) seq does no subtree
// work and reports no change.
func TestUpdateRootIdempotent(t *testing.T) {
	peers := []DNSNode{{HasID: true, ID: "n1", IPv4: "1.2.3.4", Port: 1}}
	res, url, _ := buildTestTree(t, "idempotent.example.org", 5, peers)
	loc, err := parseLink(url)
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(Config{Resolver: res})
	ct := newClientTree(c, &linkCache{}, loc)

	linkChanged, nodeChanged, err := ct.updateRoot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !linkChanged || !nodeChanged {
		t.Fatal("first updateRoot should report both subtrees changed")
	}

	linkChanged, nodeChanged, err = ct.updateRoot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if linkChanged || nodeChanged {
		t.Fatal("repeat updateRoot with unchanged seq should report no change")
	}
}

// TestUpdateRootRejectsLowerSeq ensures a root with a seq no higher
// than the last-seen one is treated as unchanged, not an error.
func TestUpdateRootRejectsLowerSeq(t *testing.T) {
	peers := []DNSNode{{HasID: true, ID: "n1", IPv4: "1.2.3.4", Port: 1}}
	res, url, key := buildTestTree(t, "lowerseq.example.org", 10, peers)
	loc, err := parseLink(url)
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(Config{Resolver: res})
	ct := newClientTree(c, &linkCache{}, loc)
	if _, _, err := ct.updateRoot(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Republish a root at a lower seq; should be a no-op on re-sync.
	r := rootEntry{eroot: ct.root.eroot, lroot: ct.root.lroot, seq: 9}
	r = signRoot(t, key, r)
	res["lowerseq.example.org"] = []string{rootText(r)}

	linkChanged, nodeChanged, err := ct.updateRoot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if linkChanged || nodeChanged {
		t.Fatal("lower-seq republish should not register as a change")
	}
}

func TestKindConstraintNodesInLink(t *testing.T) {
	peers := []DNSNode{{HasID: true, ID: "n1", IPv4: "1.2.3.4", Port: 1}}
	domain := "badkind.example.org"
	key := mustGenKey(t)
	res := make(fakeResolver)

	nodesText := nodesPrefix + base64.StdEncoding.EncodeToString(snappyEncode(encodePeerList(peers)))
	nodesHash := hashEntry(nodesText)
	res[nodesHash+"."+domain] = []string{nodesText}

	// Link subtree root points directly at the nodes entry: illegal.
	r := rootEntry{eroot: nodesHash, lroot: nodesHash, seq: 1}
	r = signRoot(t, key, r)
	res[domain] = []string{rootText(r)}

	pubEncoded := b32format.EncodeToString(key.PubKey().SerializeCompressed())
	url := linkPrefix + pubEncoded + "@" + domain

	c := NewClient(Config{Resolver: res})
	_, err := c.SyncTree(context.Background(), url)
	if err != errNodesInLink {
		t.Fatalf("err = %v, want errNodesInLink", err)
	}
}
