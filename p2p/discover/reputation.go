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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/xdagj/xdagj-p2p-go/logger"
	"github.com/xdagj/xdagj-p2p-go/logger/glog"
)

const (
	repDataFile    = "reputation.dat"
	repBackupFile  = "reputation.dat.bak"
	repTmpFile     = "reputation.dat.tmp"
	defaultSaveInterval = 60 * time.Second
	decayPerDay         = 5
)

type repRecord struct {
	score     int
	timestamp time.Time
}

// ReputationStore is the durable per-node reputation score of spec.md
// §4.5. Persistence goes through an injected afero.Fs so tests can
// exercise the atomic-save path against an in-memory filesystem,
// following the teacher's habit (see its config package) of wrapping
// file I/O behind an interface rather than calling os.* directly.
type ReputationStore struct {
	mu   sync.Mutex
	recs map[string]repRecord

	fs          afero.Fs
	dir         string
	saveInterval time.Duration

	stopCh    chan struct{}
	stopOnce  sync.Once
	stoppedWG sync.WaitGroup
}

// NewReputationStore constructs a store rooted at dir, loading any
// existing reputation.dat (or its .bak) and starting the periodic save
// loop.
func NewReputationStore(fs afero.Fs, dir string) *ReputationStore {
	r := &ReputationStore{
		recs:         make(map[string]repRecord),
		fs:           fs,
		dir:          dir,
		saveInterval: defaultSaveInterval,
		stopCh:       make(chan struct{}),
	}
	r.load()
	r.stoppedWG.Add(1)
	go r.saveLoop()
	return r
}

// Get applies the decayed-read rule of spec.md §4.5 and testable
// property 7.
func (r *ReputationStore) Get(nodeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[nodeID]
	if !ok {
		return repNeutral
	}
	return decayedScore(rec, time.Now())
}

func decayedScore(rec repRecord, now time.Time) int {
	days := int(now.Sub(rec.timestamp) / (24 * time.Hour))
	if days <= 0 {
		return rec.score
	}
	delta := decayPerDay * days
	switch {
	case rec.score > repNeutral:
		v := rec.score - delta
		if v < repNeutral {
			v = repNeutral
		}
		return v
	case rec.score < repNeutral:
		v := rec.score + delta
		if v > repNeutral {
			v = repNeutral
		}
		return v
	default:
		return repNeutral
	}
}

// Set stores score for nodeID, stamped with the current time.
func (r *ReputationStore) Set(nodeID string, score int) {
	if score < repMin {
		score = repMin
	}
	if score > repMax {
		score = repMax
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[nodeID] = repRecord{score: score, timestamp: time.Now()}
}

// Size returns the number of tracked records.
func (r *ReputationStore) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

// Clear discards all in-memory records (does not touch on-disk files).
func (r *ReputationStore) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = make(map[string]repRecord)
}

// Stop performs a final synchronous flush and halts the save loop.
func (r *ReputationStore) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.stoppedWG.Wait()
		if err := r.save(); err != nil {
			glog.V(logger.Warn).Infof("discover: final reputation save failed: %v", err)
		}
	})
}

func (r *ReputationStore) saveLoop() {
	defer r.stoppedWG.Done()
	t := time.NewTicker(r.saveInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := r.save(); err != nil {
				glog.V(logger.Warn).Infof("discover: reputation save failed: %v", err)
			}
		case <-r.stopCh:
			return
		}
	}
}

// save implements spec.md §4.5's "write-temp, rename" atomicity: write
// a snapshot to reputation.dat.tmp, copy the existing reputation.dat to
// reputation.dat.bak, then rename tmp -> reputation.dat.
func (r *ReputationStore) save() error {
	r.mu.Lock()
	snapshot := make(map[string]repRecord, len(r.recs))
	for k, v := range r.recs {
		snapshot[k] = v
	}
	r.mu.Unlock()

	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}

	buf := encodeReputationSnapshot(snapshot)
	tmpPath := filepath.Join(r.dir, repTmpFile)
	if err := afero.WriteFile(r.fs, tmpPath, buf, 0o644); err != nil {
		return fmt.Errorf("discover: write temp reputation file: %w", err)
	}

	dataPath := filepath.Join(r.dir, repDataFile)
	backupPath := filepath.Join(r.dir, repBackupFile)
	if existing, err := afero.ReadFile(r.fs, dataPath); err == nil {
		if err := afero.WriteFile(r.fs, backupPath, existing, 0o644); err != nil {
			glog.V(logger.Warn).Infof("discover: reputation backup copy failed: %v", err)
		}
	}

	if err := r.fs.Rename(tmpPath, dataPath); err != nil {
		return fmt.Errorf("discover: rename reputation file: %w", err)
	}
	return nil
}

func (r *ReputationStore) load() {
	dataPath := filepath.Join(r.dir, repDataFile)
	b, err := afero.ReadFile(r.fs, dataPath)
	if err != nil {
		backupPath := filepath.Join(r.dir, repBackupFile)
		b, err = afero.ReadFile(r.fs, backupPath)
		if err != nil {
			return // no prior state; start empty, per spec.md §7 PersistenceError handling
		}
	}
	recs, err := decodeReputationSnapshot(b)
	if err != nil {
		glog.V(logger.Warn).Infof("discover: reputation file corrupt, starting empty: %v", err)
		return
	}
	r.mu.Lock()
	r.recs = recs
	r.mu.Unlock()
}

// encodeReputationSnapshot implements the deterministic binary layout
// named in spec.md §4.5: length-prefixed node-id string, 4-byte score,
// 8-byte timestamp (unix seconds), repeated in ascending node-id order.
func encodeReputationSnapshot(m map[string]repRecord) []byte {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var buf bytes.Buffer
	for _, id := range ids {
		rec := m[id]
		putUint32(&buf, uint32(len(id)))
		buf.WriteString(id)
		var sb [4]byte
		binary.BigEndian.PutUint32(sb[:], uint32(int32(rec.score)))
		buf.Write(sb[:])
		var tb [8]byte
		binary.BigEndian.PutUint64(tb[:], uint64(rec.timestamp.Unix()))
		buf.Write(tb[:])
	}
	return buf.Bytes()
}

func decodeReputationSnapshot(b []byte) (map[string]repRecord, error) {
	out := make(map[string]repRecord)
	r := bytes.NewReader(b)
	for r.Len() > 0 {
		var idLen uint32
		if err := binary.Read(r, binary.BigEndian, &idLen); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		idBuf := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBuf); err != nil {
			return nil, err
		}
		var score int32
		if err := binary.Read(r, binary.BigEndian, &score); err != nil {
			return nil, err
		}
		var ts int64
		if err := binary.Read(r, binary.BigEndian, &ts); err != nil {
			return nil, err
		}
		out[string(idBuf)] = repRecord{score: int(score), timestamp: time.Unix(ts, 0)}
	}
	return out, nil
}
