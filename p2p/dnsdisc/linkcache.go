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

// linkCache tracks the edges of the link graph src -> {dst}, per
// spec.md §3's "LinkCache". The root ("") is a synthetic source
// representing the iterator's configured tree URLs.
type linkCache struct {
	backrefs map[string]map[string]struct{}
	changed  bool
}

func (lc *linkCache) isReferenced(dst string) bool {
	return len(lc.backrefs[dst]) != 0
}

func (lc *linkCache) addLink(src, dst string) {
	if lc.isNewLink(src, dst) {
		if lc.backrefs == nil {
			lc.backrefs = make(map[string]map[string]struct{})
		}
		if lc.backrefs[dst] == nil {
			lc.backrefs[dst] = make(map[string]struct{})
		}
		lc.backrefs[dst][src] = struct{}{}
		lc.changed = true
	}
}

func (lc *linkCache) isNewLink(src, dst string) bool {
	_, ok := lc.backrefs[dst][src]
	return !ok
}

// resetLinks implements spec.md §4.4's gcLinks: "rewrites the LinkCache
// to only contain edges whose source is the current link URL."
func (lc *linkCache) resetLinks(src string, dsts []string) {
	var changed bool
	keep := make(map[string]bool, len(dsts))
	for _, dst := range dsts {
		keep[dst] = true
		if lc.isNewLink(src, dst) {
			changed = true
		}
	}
	for dst, srcs := range lc.backrefs {
		if !keep[dst] {
			if _, ok := srcs[src]; ok {
				delete(srcs, src)
				changed = true
			}
			if len(srcs) == 0 {
				delete(lc.backrefs, dst)
			}
		}
	}
	for _, dst := range dsts {
		if lc.backrefs == nil {
			lc.backrefs = make(map[string]map[string]struct{})
		}
		if lc.backrefs[dst] == nil {
			lc.backrefs[dst] = make(map[string]struct{})
		}
		lc.backrefs[dst][src] = struct{}{}
	}
	if changed {
		lc.changed = true
	}
}
