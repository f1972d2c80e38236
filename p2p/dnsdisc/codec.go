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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
)

// snappyDecode/snappyEncode wrap golang/snappy, matching spec.md §6's
// "compressed peer list (NodesEntry payload, base64 over the following
// bytes)".
func snappyEncode(b []byte) []byte {
	return snappy.Encode(nil, b)
}

func snappyDecode(b []byte) ([]byte, error) {
	return snappy.Decode(nil, b)
}

// encodePeerList implements spec.md §6's length-prefixed NodesEntry
// payload: u32 count, then per entry a presence bool, id, ipv4, ipv6,
// port. This standardizes on the homegrown dump, not the coexisting
// protobuf Peers message the Open Question in spec.md §9 mentions.
func encodePeerList(nodes []DNSNode) []byte {
	var buf bytes.Buffer
	putU32(&buf, uint32(len(nodes)))
	for _, n := range nodes {
		putBool(&buf, n.HasID)
		if n.HasID {
			putStr(&buf, n.ID)
		} else {
			putStr(&buf, "")
		}
		putStr(&buf, n.IPv4)
		putStr(&buf, n.IPv6)
		putU32(&buf, n.Port)
	}
	return buf.Bytes()
}

func decodePeerList(b []byte) ([]DNSNode, error) {
	r := bytes.NewReader(b)
	count, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("dnsdisc: bad peer list count: %w", err)
	}
	out := make([]DNSNode, 0, count)
	for i := uint32(0); i < count; i++ {
		var n DNSNode
		hasID, err := readBool(r)
		if err != nil {
			return nil, err
		}
		id, err := readStr(r)
		if err != nil {
			return nil, err
		}
		if hasID {
			n.HasID = true
			n.ID = id
		}
		if n.IPv4, err = readStr(r); err != nil {
			return nil, err
		}
		if n.IPv6, err = readStr(r); err != nil {
			return nil, err
		}
		if n.Port, err = readU32(r); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func putStr(buf *bytes.Buffer, s string) {
	putU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func readStr(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
