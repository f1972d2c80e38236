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
	"crypto/rand"
	"time"
)

const (
	// Alpha is the concurrency parameter of the iterative lookup
	// (spec.md §4.3 "Discover loop").
	Alpha = 3

	// MaxSteps bounds the number of lookup rounds per cycle.
	MaxSteps = 8

	// MaxLoopNum: every MaxLoopNum-th discover cycle targets the local
	// node id (self-lookup bootstrap) instead of a random value.
	MaxLoopNum = 10

	// DiscoverCycle is the timer period driving the discover loop.
	DiscoverCycle = 10 * time.Second

	// WaitTime is the pause between lookup rounds.
	WaitTime = 300 * time.Millisecond

	// randomTargetLen matches the wire format's 64-byte lookup target
	// (spec.md §9 Open Question: mixed 20/64-byte ids).
	randomTargetLen = NodeIDLen
)

// DiscoverLoop runs the periodic self/random lookup timer described in
// spec.md §4.3 until stopCh is closed. It is meant to run in its own
// goroutine, mirroring the "single-threaded timer" scheduling model of
// spec.md §5.
func (s *Service) DiscoverLoop(stopCh <-chan struct{}) {
	t := time.NewTicker(DiscoverCycle)
	defer t.Stop()
	cycle := 0
	for {
		select {
		case <-t.C:
			cycle++
			var target [32]byte
			if cycle%MaxLoopNum == 0 {
				copy(target[:], s.conf.Self.ID[:])
			} else {
				buf := make([]byte, randomTargetLen)
				rand.Read(buf)
				target = keccak256(buf)
			}
			var id NodeID
			copy(id[:], target[:IDLength])
			s.lookup(id)
		case <-stopCh:
			return
		case <-s.stopCh:
			return
		}
	}
}

// lookup implements the iterative lookup described in spec.md §4.3:
// at most Alpha closest-known-but-untried nodes are queried per round,
// for up to MaxSteps rounds, each round excluding previously tried
// nodes.
func (s *Service) lookup(target NodeID) []*Node {
	tried := make(map[NodeID]bool)
	result := s.table.Closest(target)

	for step := 0; step < MaxSteps; step++ {
		candidates := untried(result, tried)
		if len(candidates) == 0 {
			break
		}
		if len(candidates) > Alpha {
			candidates = candidates[:Alpha]
		}
		for _, n := range candidates {
			tried[n.ID] = true
			h := s.getOrCreateHandler(n)
			if h.State() == StateActive {
				s.sendFindNode(h, target)
			}
		}
		time.Sleep(WaitTime)
		result = s.table.Closest(target)
	}
	return result
}

func untried(nodes []*Node, tried map[NodeID]bool) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if !tried[n.ID] {
			out = append(out, n)
		}
	}
	return out
}
