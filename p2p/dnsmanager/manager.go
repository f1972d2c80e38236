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

// Package dnsmanager composes the DNS sync client and random iterator
// into a single candidate feed for the connection pool, filtering out
// locally-bound addresses and persisting last-seen tree sequence
// numbers across restarts.
package dnsmanager

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"

	"github.com/xdagj/xdagj-p2p-go/logger"
	"github.com/xdagj/xdagj-p2p-go/logger/glog"
	"github.com/xdagj/xdagj-p2p-go/p2p/discover"
	"github.com/xdagj/xdagj-p2p-go/p2p/distip"
	"github.com/xdagj/xdagj-p2p-go/p2p/dnsdisc"
)

var rootCacheBucketName = []byte("dnsRoots")

// rootCacheDB persists a sequence number per tree URL across restarts,
// written by Manager.PersistRoots and read by Manager.LastSeenSeq. The
// dnsdisc client does not consult it: after a restart every root is
// fetched and its signature verified again (see DESIGN.md).
type rootCacheDB struct {
	db *bolt.DB
}

func newRootCacheDB(dir string) (*rootCacheDB, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "dnsroots.db")
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootCacheBucketName)
		return err
	}); err != nil {
		bdb.Close()
		return nil, err
	}
	return &rootCacheDB{db: bdb}, nil
}

func (r *rootCacheDB) get(url string) (seq uint32, ok bool) {
	_ = r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootCacheBucketName)
		v := b.Get([]byte(url))
		if len(v) == 4 {
			seq = binary.BigEndian.Uint32(v)
			ok = true
		}
		return nil
	})
	return
}

func (r *rootCacheDB) put(url string, seq uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], seq)
	if err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootCacheBucketName)
		return b.Put([]byte(url), buf[:])
	}); err != nil {
		glog.V(logger.Warn).Infof("dnsmanager: root cache write for %s: %v", url, err)
	}
}

func (r *rootCacheDB) close() error { return r.db.Close() }

// Manager is the DNS Manager facade (module K).
type Manager struct {
	client   *dnsdisc.Client
	iterator *dnsdisc.RandomIterator
	cache    *rootCacheDB

	mu   sync.Mutex
	seen map[string]bool // dedupe ID/addr within one ConnectableNodes call
}

// New builds a Manager over the given tree:// URLs, persisting root
// sequence state under dataDir.
func New(cfg dnsdisc.Config, dataDir string, urls ...string) (*Manager, error) {
	cache, err := newRootCacheDB(dataDir)
	if err != nil {
		return nil, err
	}
	client := dnsdisc.NewClient(cfg)
	it, err := client.NewIterator(urls...)
	if err != nil {
		cache.close()
		return nil, err
	}
	return &Manager{client: client, iterator: it, cache: cache, seen: make(map[string]bool)}, nil
}

// Close releases the persisted root cache and stops the iterator.
func (m *Manager) Close() error {
	m.iterator.Close()
	return m.cache.close()
}

// ConnectableNodes drains a handful of fresh random entries from the
// tree iterator, skipping any that resolve to a LAN-local address
// (our own network segment is never a useful dial target learned over
// DNS) and deduping by node ID within this call.
func (m *Manager) ConnectableNodes() []*discover.Node {
	const perCallBudget = 16
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = make(map[string]bool)

	var out []*discover.Node
	for i := 0; i < perCallBudget; i++ {
		if !m.iterator.Next() {
			break
		}
		n := m.iterator.Node()
		if n == nil {
			continue
		}
		node, ok := toDiscoverNode(*n)
		if !ok {
			continue
		}
		if distip.IsLAN(preferredIP(node)) {
			continue
		}
		key := node.ID.String()
		if node.ID.IsZero() {
			key = preferredIP(node).String()
		}
		if m.seen[key] {
			continue
		}
		m.seen[key] = true
		out = append(out, node)
	}
	return out
}

func preferredIP(n *discover.Node) net.IP {
	if n.IP4 != nil {
		return n.IP4
	}
	return n.IP6
}

// toDiscoverNode adapts a dnsdisc.DNSNode into the discover package's
// Node type, the shape every other candidate source in the pool
// speaks.
func toDiscoverNode(dn dnsdisc.DNSNode) (*discover.Node, bool) {
	var ip4, ip6 net.IP
	if dn.IPv4 != "" {
		ip4 = net.ParseIP(dn.IPv4)
	}
	if dn.IPv6 != "" {
		ip6 = net.ParseIP(dn.IPv6)
	}
	if ip4 == nil && ip6 == nil {
		return nil, false
	}
	n := &discover.Node{
		IP4:        ip4,
		IP6:        ip6,
		Port:       uint16(dn.Port),
		UpdateTime: time.Now(),
	}
	if dn.HasID {
		id, err := discover.HexNodeID(dn.ID)
		if err != nil {
			return nil, false
		}
		n.ID = id
	}
	return n, true
}

// PersistRoots writes the given per-URL root sequence numbers to the
// root cache, intended to be called periodically (e.g. alongside the
// reputation store's save loop).
func (m *Manager) PersistRoots(urlSeqs map[string]uint32) {
	for url, seq := range urlSeqs {
		m.cache.put(url, seq)
	}
}

// LastSeenSeq returns the last persisted sequence number for url, if
// any was recorded in a previous run.
func (m *Manager) LastSeenSeq(url string) (uint32, bool) {
	return m.cache.get(url)
}
