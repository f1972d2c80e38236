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
	"errors"
	"fmt"
	"net"
)

// Packet type bytes (spec.md §6).
const (
	kadPing       byte = 0x01
	kadPong       byte = 0x02
	kadFindNode   byte = 0x03
	kadNeighbours byte = 0x04
)

// NodeIDLen is the length, in bytes, of the targetId field carried in a
// KAD_FIND_NODE packet. The source's lookup targets are occasionally
// 64-byte random values rather than 20-byte node ids (see the Open
// Question in spec.md §9); the wire format accommodates either length.
const NodeIDLen = 64

// maxNeighbours bounds a single KAD_NEIGHBORS packet to BucketSize
// entries, matching spec.md §6: "neighbours:repeated Endpoint (≤
// BUCKET_SIZE=16)".
const maxNeighbours = BucketSize

var (
	errPacketTooShort = errors.New("discover: packet too short")
	errBadEndpoint    = errors.New("discover: malformed endpoint")
	errTooManyNodes   = errors.New("discover: neighbours exceeds bucket size")
	errUnknownType    = errors.New("discover: unknown packet type")
)

// endpoint is the wire encoding of an address (spec.md §6 "Endpoint").
// Following the teacher's habit of a small self-contained codec type per
// message (see rlpx.go's frame header), this is hand-rolled rather than
// generated: the source's "protocol-buffer encoded" payload has no
// accompanying .proto schema in the retrieved material, so there is
// nothing to bind a real protobuf library to; see DESIGN.md.
type endpoint struct {
	nodeID      NodeID
	hasID       bool
	ipv4        string
	ipv6        string
	port        int32
}

func endpointOf(n *Node) endpoint {
	e := endpoint{port: int32(n.Port)}
	if !n.ID.IsZero() {
		e.nodeID, e.hasID = n.ID, true
	}
	if n.IP4 != nil {
		e.ipv4 = n.IP4.String()
	}
	if n.IP6 != nil {
		e.ipv6 = n.IP6.String()
	}
	return e
}

func (e endpoint) toNode() *Node {
	n := &Node{Port: uint16(e.port), BindPort: uint16(e.port)}
	if e.hasID {
		n.ID = e.nodeID
	}
	if e.ipv4 != "" {
		n.IP4 = net.ParseIP(e.ipv4).To4()
	}
	if e.ipv6 != "" {
		n.IP6 = net.ParseIP(e.ipv6)
	}
	return n
}

// --- length-prefixed primitive codecs, shared by every message kind ---

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

type byteReader struct {
	b []byte
}

func (r *byteReader) uint32() (uint32, error) {
	if len(r.b) < 4 {
		return 0, errPacketTooShort
	}
	v := binary.BigEndian.Uint32(r.b[:4])
	r.b = r.b[4:]
	return v, nil
}

func (r *byteReader) int64() (int64, error) {
	if len(r.b) < 8 {
		return 0, errPacketTooShort
	}
	v := binary.BigEndian.Uint64(r.b[:8])
	r.b = r.b[8:]
	return int64(v), nil
}

func (r *byteReader) string() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if uint32(len(r.b)) < n {
		return "", errPacketTooShort
	}
	s := string(r.b[:n])
	r.b = r.b[n:]
	return s, nil
}

func (r *byteReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if uint32(len(r.b)) < n {
		return nil, errPacketTooShort
	}
	out := append([]byte(nil), r.b[:n]...)
	r.b = r.b[n:]
	return out, nil
}

func putEndpoint(buf *bytes.Buffer, e endpoint) {
	if e.hasID {
		putBytes(buf, e.nodeID[:])
	} else {
		putBytes(buf, nil)
	}
	putString(buf, e.ipv4)
	putString(buf, e.ipv6)
	putUint32(buf, uint32(e.port))
}

func readEndpoint(r *byteReader) (endpoint, error) {
	var e endpoint
	idb, err := r.bytes()
	if err != nil {
		return e, err
	}
	switch len(idb) {
	case 0:
		e.hasID = false
	case IDLength:
		e.hasID = true
		copy(e.nodeID[:], idb)
	default:
		return e, errBadEndpoint
	}
	if e.ipv4, err = r.string(); err != nil {
		return e, err
	}
	if e.ipv6, err = r.string(); err != nil {
		return e, err
	}
	port, err := r.uint32()
	if err != nil {
		return e, err
	}
	e.port = int32(port)
	return e, nil
}

// pingMessage is spec.md §6's PingMessage.
type pingMessage struct {
	version   int32
	from, to  endpoint
	timestamp int64
}

func encodePing(m pingMessage) []byte {
	var buf bytes.Buffer
	buf.WriteByte(kadPing)
	putUint32(&buf, uint32(m.version))
	putEndpoint(&buf, m.from)
	putEndpoint(&buf, m.to)
	putInt64(&buf, m.timestamp)
	return buf.Bytes()
}

func decodePing(body []byte) (pingMessage, error) {
	var m pingMessage
	r := &byteReader{b: body}
	v, err := r.uint32()
	if err != nil {
		return m, err
	}
	m.version = int32(v)
	if m.from, err = readEndpoint(r); err != nil {
		return m, err
	}
	if m.to, err = readEndpoint(r); err != nil {
		return m, err
	}
	if m.timestamp, err = r.int64(); err != nil {
		return m, err
	}
	return m, nil
}

// pongMessage is spec.md §6's PongMessage.
type pongMessage struct {
	from      endpoint
	echo      int32
	timestamp int64
}

func encodePong(m pongMessage) []byte {
	var buf bytes.Buffer
	buf.WriteByte(kadPong)
	putEndpoint(&buf, m.from)
	putUint32(&buf, uint32(m.echo))
	putInt64(&buf, m.timestamp)
	return buf.Bytes()
}

func decodePong(body []byte) (pongMessage, error) {
	var m pongMessage
	r := &byteReader{b: body}
	var err error
	if m.from, err = readEndpoint(r); err != nil {
		return m, err
	}
	echo, err := r.uint32()
	if err != nil {
		return m, err
	}
	m.echo = int32(echo)
	if m.timestamp, err = r.int64(); err != nil {
		return m, err
	}
	return m, nil
}

// findNeighboursMessage is spec.md §6's FindNeighbours.
type findNeighboursMessage struct {
	from      endpoint
	target    []byte // NodeIDLen bytes
	timestamp int64
}

func encodeFindNode(m findNeighboursMessage) []byte {
	var buf bytes.Buffer
	buf.WriteByte(kadFindNode)
	putEndpoint(&buf, m.from)
	putBytes(&buf, m.target)
	putInt64(&buf, m.timestamp)
	return buf.Bytes()
}

func decodeFindNode(body []byte) (findNeighboursMessage, error) {
	var m findNeighboursMessage
	r := &byteReader{b: body}
	var err error
	if m.from, err = readEndpoint(r); err != nil {
		return m, err
	}
	if m.target, err = r.bytes(); err != nil {
		return m, err
	}
	if len(m.target) != NodeIDLen && len(m.target) != IDLength {
		return m, fmt.Errorf("discover: bad target length %d", len(m.target))
	}
	if m.timestamp, err = r.int64(); err != nil {
		return m, err
	}
	return m, nil
}

// neighboursMessage is spec.md §6's Neighbours.
type neighboursMessage struct {
	from       endpoint
	neighbours []endpoint
	timestamp  int64
}

func encodeNeighbours(m neighboursMessage) ([]byte, error) {
	if len(m.neighbours) > maxNeighbours {
		return nil, errTooManyNodes
	}
	var buf bytes.Buffer
	buf.WriteByte(kadNeighbours)
	putEndpoint(&buf, m.from)
	putUint32(&buf, uint32(len(m.neighbours)))
	for _, e := range m.neighbours {
		putEndpoint(&buf, e)
	}
	putInt64(&buf, m.timestamp)
	return buf.Bytes(), nil
}

func decodeNeighbours(body []byte) (neighboursMessage, error) {
	var m neighboursMessage
	r := &byteReader{b: body}
	var err error
	if m.from, err = readEndpoint(r); err != nil {
		return m, err
	}
	count, err := r.uint32()
	if err != nil {
		return m, err
	}
	if count > maxNeighbours {
		return m, errTooManyNodes
	}
	m.neighbours = make([]endpoint, count)
	for i := range m.neighbours {
		if m.neighbours[i], err = readEndpoint(r); err != nil {
			return m, err
		}
	}
	if m.timestamp, err = r.int64(); err != nil {
		return m, err
	}
	return m, nil
}

// decodePacket splits a raw UDP datagram into its type byte and the
// decoded message, per spec.md §6: "Packet = [type:1 byte][payload]".
func decodePacket(raw []byte) (byte, interface{}, error) {
	if len(raw) < 1 {
		return 0, nil, errPacketTooShort
	}
	typ, body := raw[0], raw[1:]
	switch typ {
	case kadPing:
		m, err := decodePing(body)
		return typ, m, err
	case kadPong:
		m, err := decodePong(body)
		return typ, m, err
	case kadFindNode:
		m, err := decodeFindNode(body)
		return typ, m, err
	case kadNeighbours:
		m, err := decodeNeighbours(body)
		return typ, m, err
	default:
		return typ, nil, errUnknownType
	}
}

// validEndpoint applies spec.md §6's "basic structural checks": an
// endpoint is valid if it carries at least one parseable IP and a
// non-zero port.
func validEndpoint(e endpoint) bool {
	if e.port <= 0 || e.port > 65535 {
		return false
	}
	if e.ipv4 == "" && e.ipv6 == "" {
		return false
	}
	if e.ipv4 != "" && net.ParseIP(e.ipv4) == nil {
		return false
	}
	if e.ipv6 != "" && net.ParseIP(e.ipv6) == nil {
		return false
	}
	return true
}
