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
	"sync"
	"time"
)

const randomRetryTimes = 10 // spec.md §4.4 "randomRetryTimes=10"

// RandomIterator yields peer records drawn at random from a set of
// configured tree URLs, retrying a failed tree up to randomRetryTimes
// before giving up for the current call, per spec.md §4.4's iterator
// contract.
type RandomIterator struct {
	c   *Client
	ctx context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	trees map[string]*clientTree
	cur   *DNSNode
}

// NewIterator builds a RandomIterator over the given tree:// URLs.
func (c *Client) NewIterator(urls ...string) (*RandomIterator, error) {
	ctx, cancel := context.WithCancel(context.Background())
	it := &RandomIterator{c: c, ctx: ctx, cancel: cancel, trees: make(map[string]*clientTree)}
	for _, url := range urls {
		if err := it.addTree(url); err != nil {
			cancel()
			return nil, err
		}
	}
	return it, nil
}

func (it *RandomIterator) addTree(url string) error {
	loc, err := parseLink(url)
	if err != nil {
		return err
	}
	it.trees[loc.str] = newClientTree(it.c, &linkCache{}, loc)
	return nil
}

// Node returns the last record produced by Next.
func (it *RandomIterator) Node() *DNSNode {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.cur
}

// Close stops the iterator; subsequent Next calls return false.
func (it *RandomIterator) Close() {
	it.cancel()
}

// Next advances the iterator to a new random node, trying up to
// randomRetryTimes times across the configured trees before reporting
// exhaustion. Grounded on the corpus's randomIterator.Next/pickTree.
func (it *RandomIterator) Next() bool {
	for i := 0; i < randomRetryTimes; i++ {
		ct := it.pickTree()
		if ct == nil {
			return false
		}
		n, err := ct.syncRandom(it.ctx)
		if err != nil {
			continue
		}
		if n != nil {
			it.mu.Lock()
			it.cur = n
			it.mu.Unlock()
			return true
		}
		select {
		case <-it.ctx.Done():
			return false
		case <-time.After(time.Millisecond):
		}
	}
	return false
}

// pickTree selects a random syncable tree, rebuilding the tree set
// from link-subtree discoveries when none of the known trees has
// pending work, per spec.md §4.4's tree-set maintenance.
func (it *RandomIterator) pickTree() *clientTree {
	it.mu.Lock()
	defer it.mu.Unlock()

	if err := it.ctx.Err(); err != nil {
		return nil
	}
	it.rebuildTrees()
	syncable := it.syncableTrees()
	if len(syncable) == 0 {
		it.waitForRootUpdates()
		syncable = it.syncableTrees()
		if len(syncable) == 0 {
			return nil
		}
	}
	return syncable[rand.Intn(len(syncable))]
}

// syncableTrees returns every known tree that can make progress.
func (it *RandomIterator) syncableTrees() []*clientTree {
	var out []*clientTree
	for _, ct := range it.trees {
		if ct.canSyncRandom() {
			out = append(out, ct)
		}
	}
	return out
}

// rebuildTrees folds newly discovered link URLs (from completed link
// subtrees) into the known tree set, per spec.md §4.4's "LinkCache
// drives discovery of new trees".
func (it *RandomIterator) rebuildTrees() {
	for _, ct := range it.trees {
		for _, url := range ct.curLinks {
			if _, ok := it.trees[url]; ok {
				continue
			}
			loc, err := parseLink(url)
			if err != nil {
				continue
			}
			it.trees[url] = newClientTree(it.c, ct.lc, loc)
		}
	}
}

// waitForRootUpdates blocks until the earliest scheduled root check
// across all trees elapses, or the iterator is closed.
func (it *RandomIterator) waitForRootUpdates() {
	var next time.Time
	for _, ct := range it.trees {
		if ct.root == nil {
			next = time.Now()
			break
		}
		t := ct.nextScheduledRootCheck()
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	if next.IsZero() {
		return
	}
	d := time.Until(next)
	if d <= 0 {
		return
	}
	it.mu.Unlock()
	select {
	case <-it.ctx.Done():
	case <-time.After(d):
	}
	it.mu.Lock()
}
