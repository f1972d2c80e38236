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
	"math/rand"
	"time"
)

// subtreeSync walks one subtree (link or nodes) to completion, per
// spec.md §3's SubtreeSync.
type subtreeSync struct {
	c       *Client
	loc     linkEntry
	root    string
	missing []string // ordered, yet-to-fetch child hashes
	seen    []string // hashes already resolved to a linkEntry, in link subtrees
	isLink  bool
	done    bool
}

func newSubtreeSync(c *Client, loc linkEntry, root string, isLink bool) *subtreeSync {
	return &subtreeSync{c: c, loc: loc, root: root, missing: []string{root}, isLink: isLink}
}

// resolveNext fetches one missing hash, expanding branch entries into
// new missing hashes and enforcing the kind constraints of spec.md
// §4.4: "In a link subtree: only branch or link entries are valid...
// In a node subtree: only branch or nodes entries are valid."
func (ts *subtreeSync) resolveNext(ctx context.Context) (entry, error) {
	if len(ts.missing) == 0 {
		ts.done = true
		return nil, nil
	}
	hash := ts.missing[0]
	ts.missing = ts.missing[1:]

	e, err := ts.c.resolveEntry(ctx, ts.loc.domain, hash)
	if err != nil {
		// Put the hash back; spec.md §7 DnsLookupFailed: abort this
		// cycle, leave prior state intact, retry next cadence.
		ts.missing = append([]string{hash}, ts.missing...)
		return nil, err
	}

	switch v := e.(type) {
	case branchEntry:
		ts.missing = append(ts.missing, v.children...)
	case linkEntry:
		if !ts.isLink {
			return nil, errLinkInNodes
		}
		ts.seen = append(ts.seen, hash)
	case nodesEntry:
		if ts.isLink {
			return nil, errNodesInLink
		}
	}
	if len(ts.missing) == 0 {
		ts.done = true
	}
	return e, nil
}

func (ts *subtreeSync) resolveAll(ctx context.Context, dest map[string]entry) error {
	for !ts.done {
		if len(ts.missing) == 0 {
			break
		}
		hash := ts.missing[0]
		e, err := ts.resolveNext(ctx)
		if err != nil {
			return err
		}
		if e != nil {
			dest[hash] = e
		}
	}
	return nil
}

// clientTree is the per-URL sync state of spec.md §3's ClientTree.
type clientTree struct {
	c   *Client
	lc  *linkCache
	loc linkEntry

	root            *rootEntry
	lastSeq         uint32
	lastValidatedAt time.Time

	linkSync *subtreeSync
	nodeSync *subtreeSync
	curLinks []string
}

func newClientTree(c *Client, lc *linkCache, loc linkEntry) *clientTree {
	return &clientTree{c: c, lc: lc, loc: loc}
}

// updateRoot implements spec.md §4.4: re-fetches the root; if
// seq <= lastSeq, no subtree work is done (testable property 6,
// idempotence). Returns (linkRootChanged, nodeRootChanged).
func (ct *clientTree) updateRoot(ctx context.Context) (bool, bool, error) {
	root, err := ct.c.resolveRoot(ctx, ct.loc)
	if err != nil {
		return false, false, err
	}
	ct.lastValidatedAt = time.Now()
	if ct.root != nil && root.seq <= ct.lastSeq {
		return false, false, nil
	}
	linkChanged := ct.root == nil || root.lroot != ct.root.lroot
	nodeChanged := ct.root == nil || root.eroot != ct.root.eroot

	if linkChanged {
		ct.linkSync = newSubtreeSync(ct.c, ct.loc, root.lroot, true)
		ct.curLinks = nil
	}
	if nodeChanged {
		ct.nodeSync = newSubtreeSync(ct.c, ct.loc, root.eroot, false)
	}
	ct.root = &root
	ct.lastSeq = root.seq
	return linkChanged, nodeChanged, nil
}

// syncAll resolves every missing hash in both subtrees (spec.md §4.4).
// When the link subtree completes, gcLinks rewrites the LinkCache.
func (ct *clientTree) syncAll(ctx context.Context, dest map[string]entry) error {
	if _, _, err := ct.updateRoot(ctx); err != nil {
		return err
	}
	if ct.linkSync != nil {
		if err := ct.linkSync.resolveAll(ctx, dest); err != nil {
			return err
		}
		ct.gcLinks()
	}
	if ct.nodeSync != nil {
		if err := ct.nodeSync.resolveAll(ctx, dest); err != nil {
			return err
		}
	}
	return nil
}

// gcLinks implements spec.md §4.4: "rewrites the LinkCache to only
// contain edges whose source is the current link URL."
func (ct *clientTree) gcLinks() {
	if ct.linkSync == nil || !ct.linkSync.done {
		return
	}
	var links []string
	for _, hash := range ct.linkSync.seen {
		if v, ok := ct.c.entries.Get(ct.loc.domain + "/" + hash); ok {
			if le, ok := v.(linkEntry); ok {
				links = append(links, le.str)
			}
		}
	}
	ct.curLinks = links
	ct.lc.resetLinks(ct.loc.str, links)
}

// canSyncRandom reports whether syncRandom can make progress right
// now: either subtree still has missing hashes.
func (ct *clientTree) canSyncRandom() bool {
	if ct.root == nil {
		return true
	}
	if ct.linkSync != nil && !ct.linkSync.done {
		return true
	}
	return ct.nodeSync != nil && !ct.nodeSync.done
}

// nextScheduledRootCheck is lastValidatedAt + recheckInterval
// (spec.md §4.4 "Recheck cadence").
func (ct *clientTree) nextScheduledRootCheck() time.Time {
	return ct.lastValidatedAt.Add(ct.c.cfg.RecheckInterval)
}

// syncRandom implements spec.md §4.4's priority rule: finish the link
// subtree first (returning nil while incomplete); then resolve a
// random missing hash in the node subtree; once that subtree is fully
// walked, reinitialize it under the current eRoot so iteration can
// restart.
func (ct *clientTree) syncRandom(ctx context.Context) (*DNSNode, error) {
	if ct.root == nil {
		if _, _, err := ct.updateRoot(ctx); err != nil {
			return nil, err
		}
	}
	if ct.linkSync != nil && !ct.linkSync.done {
		if _, err := ct.linkSync.resolveNext(ctx); err != nil {
			return nil, err
		}
		if ct.linkSync.done {
			ct.gcLinks()
		}
		return nil, nil
	}
	if ct.nodeSync == nil || len(ct.nodeSync.missing) == 0 {
		if ct.root != nil {
			ct.nodeSync = newSubtreeSync(ct.c, ct.loc, ct.root.eroot, false)
		}
		return nil, nil
	}
	idx := rand.Intn(len(ct.nodeSync.missing))
	ct.nodeSync.missing[0], ct.nodeSync.missing[idx] = ct.nodeSync.missing[idx], ct.nodeSync.missing[0]
	e, err := ct.nodeSync.resolveNext(ctx)
	if err != nil {
		return nil, err
	}
	if ne, ok := e.(nodesEntry); ok && len(ne.nodes) > 0 {
		n := ne.nodes[rand.Intn(len(ne.nodes))]
		return &n, nil
	}
	return nil, nil
}
