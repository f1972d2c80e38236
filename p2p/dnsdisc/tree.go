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

// Package dnsdisc resolves a signed, DNS-published tree of peer
// records: a root entry pointing at a link subtree and a nodes
// subtree, both reachable as base32-hash-named TXT records.
package dnsdisc

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Entry text prefixes, per spec.md §3's "DNS Tree" table.
const (
	rootPrefix   = "tree-root-v1:"
	branchPrefix = "tree-branch:"
	nodesPrefix  = "nodes:"
	linkPrefix   = "tree://"

	maxChildren = 13 // spec.md §3: "comma-separated list of child hashes (<=13 children)"
	sigLen      = 65 // spec.md §4.4: "signature length = 65 bytes"

	hashBits = 26 // truncation length of a base32-encoded SHA-256, matching the teacher corpus's enrtree hash length
)

var b32format = base32.StdEncoding.WithPadding(base32.NoPadding)

var (
	errInvalidRoot   = errors.New("dnsdisc: invalid root entry")
	errInvalidSig    = errors.New("dnsdisc: invalid signature")
	errInvalidChild  = errors.New("dnsdisc: invalid child hash")
	errHashMismatch  = errors.New("dnsdisc: hash mismatch")
	errUnknownEntry  = errors.New("dnsdisc: unknown entry type")
	errNodesInLink   = errors.New("dnsdisc: nodes entry in link subtree")
	errLinkInNodes   = errors.New("dnsdisc: link entry in node subtree")
	errNoRoot        = errors.New("dnsdisc: no root entry found")
	errNoEntry       = errors.New("dnsdisc: no entry found")
	errBadLinkFormat = errors.New("dnsdisc: malformed link URL")
)

// entry is the sum type over the four DNS tree record kinds, per the
// design note in spec.md §9 ("replace inheritance with composition: a
// sum type over message kinds with a shared dispatch").
type entry interface {
	isEntry()
}

// rootEntry is spec.md §3's Root record.
type rootEntry struct {
	eroot string
	lroot string
	seq   uint32
	sig   [sigLen]byte
}

func (rootEntry) isEntry() {}

// branchEntry is spec.md §3's Branch record: up to 13 child hashes.
type branchEntry struct {
	children []string
}

func (branchEntry) isEntry() {}

// linkEntry is spec.md §3's Link record: a reference to another tree.
type linkEntry struct {
	pubkey *btcec.PublicKey
	domain string
	str    string // original "tree://..." text, used as a LinkCache key
}

func (linkEntry) isEntry() {}

// nodesEntry is spec.md §3's Nodes record: a compressed peer list.
type nodesEntry struct {
	nodes []DNSNode
}

func (nodesEntry) isEntry() {}

// DNSNode is the peer record carried inside a nodesEntry, composed
// from (rather than inheriting) the base Node type per spec.md §9.
type DNSNode struct {
	HasID bool
	ID    string
	IPv4  string
	IPv6  string
	Port  uint32
}

// hashEntry computes the lookup key for a non-root entry: the first
// hashBits characters of the base32 encoding of SHA-256(text), per
// spec.md §3 "The hash of a non-root entry".
func hashEntry(text string) string {
	sum := sha256.Sum256([]byte(text))
	return b32format.EncodeToString(sum[:])[:hashBits]
}

// parseEntry dispatches on prefix and returns the parsed entry,
// satisfying spec.md §6's "Entry resolution ... Parse by prefix".
func parseEntry(text string) (entry, error) {
	switch {
	case strings.HasPrefix(text, branchPrefix):
		return parseBranch(text)
	case strings.HasPrefix(text, linkPrefix):
		return parseLink(text)
	case strings.HasPrefix(text, nodesPrefix):
		return parseNodes(text)
	case strings.HasPrefix(text, rootPrefix):
		return nil, errors.New("dnsdisc: root entry encountered outside resolveRoot")
	default:
		return nil, errUnknownEntry
	}
}

func parseBranch(text string) (branchEntry, error) {
	rest := strings.TrimPrefix(text, branchPrefix)
	if rest == "" {
		return branchEntry{}, nil
	}
	children := strings.Split(rest, ",")
	if len(children) > maxChildren {
		return branchEntry{}, fmt.Errorf("%w: %d children exceeds max %d", errInvalidChild, len(children), maxChildren)
	}
	for _, c := range children {
		if _, err := b32format.DecodeString(strings.ToUpper(c)); err != nil {
			return branchEntry{}, fmt.Errorf("%w: %q", errInvalidChild, c)
		}
	}
	return branchEntry{children: children}, nil
}

// parseLink parses a "tree://<base32-pubkey>@<domain>" reference, per
// spec.md §3's Link row and §6's DNS TXT format.
func parseLink(text string) (linkEntry, error) {
	rest := strings.TrimPrefix(text, linkPrefix)
	at := strings.IndexByte(rest, '@')
	if at < 0 {
		return linkEntry{}, errBadLinkFormat
	}
	keyPart, domain := rest[:at], rest[at+1:]
	if domain == "" {
		return linkEntry{}, errBadLinkFormat
	}
	keyBytes, err := b32format.DecodeString(strings.ToUpper(keyPart))
	if err != nil {
		return linkEntry{}, fmt.Errorf("%w: %v", errBadLinkFormat, err)
	}
	pub, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return linkEntry{}, fmt.Errorf("%w: %v", errBadLinkFormat, err)
	}
	return linkEntry{pubkey: pub, domain: domain, str: text}, nil
}

func (l linkEntry) String() string { return l.str }

func parseNodes(text string) (nodesEntry, error) {
	rest := strings.TrimPrefix(text, nodesPrefix)
	raw, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return nodesEntry{}, fmt.Errorf("dnsdisc: bad nodes base64: %w", err)
	}
	compressed, err := snappyDecode(raw)
	if err != nil {
		return nodesEntry{}, fmt.Errorf("dnsdisc: bad nodes compression: %w", err)
	}
	list, err := decodePeerList(compressed)
	if err != nil {
		return nodesEntry{}, err
	}
	return nodesEntry{nodes: list}, nil
}

// parseRoot parses a "tree-root-v1:" TXT record into its fields,
// before signature verification (spec.md §4.4 step 3).
func parseRoot(text string) (rootEntry, error) {
	rest := strings.TrimPrefix(text, rootPrefix)
	raw, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return rootEntry{}, fmt.Errorf("%w: bad base64: %v", errInvalidRoot, err)
	}
	// Canonical layout: "e=<hash> l=<hash> seq=<u32> sig=<base64(65)>"
	// joined by single spaces, matching the teacher corpus's
	// enrtree-root field-value convention.
	fields := strings.Fields(string(raw))
	var r rootEntry
	var sigB64 string
	for _, f := range fields {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "e":
			r.eroot = kv[1]
		case "l":
			r.lroot = kv[1]
		case "seq":
			n, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return rootEntry{}, fmt.Errorf("%w: bad seq: %v", errInvalidRoot, err)
			}
			r.seq = uint32(n)
		case "sig":
			sigB64 = kv[1]
		}
	}
	if r.eroot == "" || r.lroot == "" || sigB64 == "" {
		return rootEntry{}, fmt.Errorf("%w: missing field", errInvalidRoot)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != sigLen {
		return rootEntry{}, fmt.Errorf("%w: signature must be %d bytes", errInvalidSig, sigLen)
	}
	copy(r.sig[:], sig)
	return r, nil
}

// canonicalRootText reconstructs the exact text whose SHA-256 is
// signed, excluding the signature field itself.
func (r rootEntry) canonicalRootText() string {
	return fmt.Sprintf("e=%s l=%s seq=%d", r.eroot, r.lroot, r.seq)
}

// verifySignature checks a root entry's secp256k1 signature against
// the link's public key, per spec.md §4.4 step 4 and §6 ("Signature is
// secp256k1 over sha256(root-tree-root-text-canonical-form)").
func (r rootEntry) verifySignature(pub *btcec.PublicKey) bool {
	hash := sha256.Sum256([]byte(r.canonicalRootText()))
	recovered, _, err := ecdsa.RecoverCompact(r.sig[:], hash[:])
	if err != nil {
		return false
	}
	return recovered.IsEqual(pub)
}

// parseAndVerifyRoot combines parseRoot with structural + signature
// validation, producing the error kinds named in spec.md §4.4.
func parseAndVerifyRoot(txt string, loc linkEntry) (rootEntry, error) {
	r, err := parseRoot(txt)
	if err != nil {
		return r, err
	}
	if len(r.eroot) == 0 || len(r.lroot) == 0 {
		return r, errInvalidRoot
	}
	if !r.verifySignature(loc.pubkey) {
		return r, errInvalidSig
	}
	return r, nil
}
