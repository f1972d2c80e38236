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

// logdist returns the bit-index of the highest differing bit between a
// and b after XOR, MSB-first (spec.md §3: "Distance between two ids").
// 0 means the two hashes are equal.
func logdist(a, b [32]byte) int {
	lz := 0
	for i := range a {
		x := a[i] ^ b[i]
		if x == 0 {
			lz += 8
			continue
		}
		lz += leadingZeros8(x)
		break
	}
	return len(a)*8 - lz
}

func leadingZeros8(x byte) int {
	n := 0
	for i := 7; i >= 0; i-- {
		if x&(1<<uint(i)) != 0 {
			break
		}
		n++
	}
	return n
}

// bucketIndex implements spec.md §4.1: "Bucket index is max(0,
// leadingDistance - 1) where leadingDistance is the bit-position of the
// highest set bit of XOR(localId, nodeId) (1-indexed; 0 if ids are
// equal)". logdist already returns a 1-indexed bit position (0 when
// equal), so bucketIndex is a direct max(0, logdist-1). Callers pass the
// keccak256 hashes of the two ids, so the XOR is taken over the hashes,
// not over the raw ids.
func bucketIndex(localHash, nodeHash [32]byte) int {
	d := logdist(localHash, nodeHash)
	if d == 0 {
		return 0
	}
	return d - 1
}

// distcmp compares the XOR distances of a and b to target. It returns
// -1 if a is closer, 1 if b is closer, 0 if they are equal distance.
func distcmp(target, a, b [32]byte) int {
	for i := range target {
		da := target[i] ^ a[i]
		db := target[i] ^ b[i]
		if da == db {
			continue
		}
		if da < db {
			return -1
		}
		return 1
	}
	return 0
}
