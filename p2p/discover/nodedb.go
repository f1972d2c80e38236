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
	"encoding/json"
	"net"
	"sort"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/xdagj/xdagj-p2p-go/logger"
	"github.com/xdagj/xdagj-p2p-go/logger/glog"
)

const nodeDBVersion = 1

// nodeDBNodeExpiration is how long a node record may go unconfirmed by
// a pong before it's no longer offered as a seed.
const nodeDBNodeExpiration = 24 * time.Hour

// nodeRecord is the persisted shape of a known node: its addressing
// fields plus the last time we saw a pong from it, stored as JSON
// following the teacher's own habit (accounts/cachedb.go) of storing
// JSON-encoded records behind a key/value store rather than a custom
// binary layout.
type nodeRecord struct {
	IP4        net.IP
	IP6        net.IP
	Port       uint16
	BindPort   uint16
	NetworkID  uint64
	LastPong   time.Time
}

// nodeDB is the persistent node database of spec.md §4.1's seed-on-
// restart requirement: every node admitted to the routing table is
// recorded here, keyed by NodeID, so a fresh process can reseed its
// table without waiting on bootnodes/DNS to answer again.
//
// Backed by github.com/syndtr/goleveldb, the teacher's own embedded
// key/value store (see ethdb/database.go's LDBDatabase), reused here
// for the same "small embedded KV store for local node state" concern.
type nodeDB struct {
	db *leveldb.DB
}

// newNodeDB opens (or creates) the node database at path. An empty
// path opens an in-memory store, used by tests and by callers that
// don't want cross-restart persistence.
func newNodeDB(path string) (*nodeDB, error) {
	if path == "" {
		db, err := leveldb.Open(storage.NewMemStorage(), nil)
		if err != nil {
			return nil, err
		}
		return &nodeDB{db: db}, nil
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	n := &nodeDB{db: db}
	n.checkVersion()
	return n, nil
}

// checkVersion discards the store if it was written by a different
// nodeDBVersion, rather than risk misinterpreting an incompatible
// record layout.
func (d *nodeDB) checkVersion() {
	key := []byte("version")
	v, err := d.db.Get(key, nil)
	if err == nil && len(v) == 1 && v[0] == nodeDBVersion {
		return
	}
	iter := d.db.NewIterator(nil, nil)
	for iter.Next() {
		d.db.Delete(iter.Key(), nil)
	}
	iter.Release()
	d.db.Put(key, []byte{nodeDBVersion}, nil)
}

func nodeDBKey(id NodeID) []byte {
	return append([]byte("n:"), id[:]...)
}

// updateNode persists n's current address fields, preserving any
// previously recorded LastPong.
func (d *nodeDB) updateNode(n *Node) {
	rec := d.recordFor(n.ID)
	rec.IP4, rec.IP6 = n.IP4, n.IP6
	rec.Port, rec.BindPort = n.Port, n.BindPort
	rec.NetworkID = n.NetworkID
	d.putRecord(n.ID, rec)
}

// updateLastPong records that id answered a ping just now.
func (d *nodeDB) updateLastPong(id NodeID, t time.Time) {
	rec := d.recordFor(id)
	rec.LastPong = t
	d.putRecord(id, rec)
}

// lastPong returns the last recorded pong time for id, the zero time
// if none is known.
func (d *nodeDB) lastPong(id NodeID) time.Time {
	return d.recordFor(id).LastPong
}

// node reconstructs a *Node from its persisted record, or nil if id
// has never been seen.
func (d *nodeDB) node(id NodeID) *Node {
	v, err := d.db.Get(nodeDBKey(id), nil)
	if err != nil {
		return nil
	}
	var rec nodeRecord
	if json.Unmarshal(v, &rec) != nil {
		return nil
	}
	return &Node{
		ID: id, IP4: rec.IP4, IP6: rec.IP6,
		Port: rec.Port, BindPort: rec.BindPort,
		NetworkID: rec.NetworkID, UpdateTime: rec.LastPong,
	}
}

// querySeeds returns up to n persisted nodes last confirmed alive
// within maxAge, for use as fallback seeds when a fresh process has an
// empty routing table (spec.md §4.1 restart-reseed enrichment).
func (d *nodeDB) querySeeds(n int, maxAge time.Duration) []*Node {
	iter := d.db.NewIterator(nil, nil)
	defer iter.Release()

	cutoff := time.Now().Add(-maxAge)
	type seed struct {
		id  NodeID
		rec nodeRecord
	}
	var seeds []seed
	for iter.Next() {
		key := iter.Key()
		if len(key) != 2+len(NodeID{}) {
			continue
		}
		var rec nodeRecord
		if json.Unmarshal(iter.Value(), &rec) != nil {
			continue
		}
		if rec.LastPong.Before(cutoff) {
			continue
		}
		var id NodeID
		copy(id[:], key[2:])
		seeds = append(seeds, seed{id, rec})
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].rec.LastPong.After(seeds[j].rec.LastPong) })
	if len(seeds) > n {
		seeds = seeds[:n]
	}
	out := make([]*Node, len(seeds))
	for i, s := range seeds {
		out[i] = &Node{
			ID: s.id, IP4: s.rec.IP4, IP6: s.rec.IP6,
			Port: s.rec.Port, BindPort: s.rec.BindPort,
			NetworkID: s.rec.NetworkID, UpdateTime: s.rec.LastPong,
		}
	}
	return out
}

func (d *nodeDB) recordFor(id NodeID) nodeRecord {
	v, err := d.db.Get(nodeDBKey(id), nil)
	if err != nil {
		return nodeRecord{}
	}
	var rec nodeRecord
	if json.Unmarshal(v, &rec) != nil {
		return nodeRecord{}
	}
	return rec
}

func (d *nodeDB) putRecord(id NodeID, rec nodeRecord) {
	v, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := d.db.Put(nodeDBKey(id), v, nil); err != nil {
		glog.V(logger.Warn).Infof("discover: nodedb write for %x failed: %v", id[:8], err)
	}
}

func (d *nodeDB) close() error {
	return d.db.Close()
}
