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
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

func mustGenKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func signRoot(t *testing.T, key *btcec.PrivateKey, r rootEntry) rootEntry {
	t.Helper()
	hash := sha256.Sum256([]byte(r.canonicalRootText()))
	sig := ecdsa.SignCompact(key, hash[:], true)
	// btcec's SignCompact puts the recovery byte first, matching the
	// [recid][r][s] compact layout RecoverCompact expects.
	copy(r.sig[:], sig)
	return r
}

func rootText(r rootEntry) string {
	body := fmt.Sprintf("%s sig=%s", r.canonicalRootText(), base64.StdEncoding.EncodeToString(r.sig[:]))
	return rootPrefix + base64.StdEncoding.EncodeToString([]byte(body))
}

func TestHashEntryDeterministic(t *testing.T) {
	h1 := hashEntry("nodes:abc")
	h2 := hashEntry("nodes:abc")
	if h1 != h2 {
		t.Fatalf("hashEntry not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != hashBits {
		t.Fatalf("hash length = %d, want %d", len(h1), hashBits)
	}
}

func TestParseBranchRejectsTooManyChildren(t *testing.T) {
	var children []string
	for i := 0; i < maxChildren+1; i++ {
		children = append(children, hashEntry(fmt.Sprintf("x%d", i)))
	}
	text := branchPrefix
	for i, c := range children {
		if i > 0 {
			text += ","
		}
		text += c
	}
	if _, err := parseBranch(text); err == nil {
		t.Fatal("expected error for branch exceeding maxChildren")
	}
}

func TestParseLinkRoundTrip(t *testing.T) {
	key := mustGenKey(t)
	pub := key.PubKey()
	encoded := b32format.EncodeToString(pub.SerializeCompressed())
	url := linkPrefix + encoded + "@example.org"

	loc, err := parseLink(url)
	if err != nil {
		t.Fatal(err)
	}
	if loc.domain != "example.org" {
		t.Fatalf("domain = %q, want example.org", loc.domain)
	}
	if !loc.pubkey.IsEqual(pub) {
		t.Fatal("parsed pubkey does not match original")
	}
}

func TestParseLinkRejectsMissingAt(t *testing.T) {
	if _, err := parseLink(linkPrefix + "nodomain"); err == nil {
		t.Fatal("expected error for link without '@'")
	}
}

// TestRootSignatureVerification covers testable property 4: a root
// entry signed with key K verifies against K's public key and fails
// against any other key.
func TestRootSignatureVerification(t *testing.T) {
	key := mustGenKey(t)
	other := mustGenKey(t)

	r := rootEntry{eroot: hashEntry("nodes:x"), lroot: hashEntry("tree://y@z"), seq: 1}
	r = signRoot(t, key, r)

	if !r.verifySignature(key.PubKey()) {
		t.Fatal("signature should verify against signing key")
	}
	if r.verifySignature(other.PubKey()) {
		t.Fatal("signature should not verify against unrelated key")
	}
}

// TestParseAndVerifyRootRejectsBadSigLength covers scenario S3: a root
// entry whose signature isn't exactly 65 bytes is rejected outright.
func TestParseAndVerifyRootRejectsBadSigLength(t *testing.T) {
	body := "e=aaa l=bbb seq=1 sig=" + base64.StdEncoding.EncodeToString([]byte("tooshort"))
	text := rootPrefix + base64.StdEncoding.EncodeToString([]byte(body))
	if _, err := parseAndVerifyRoot(text, linkEntry{}); err == nil {
		t.Fatal("expected error for non-65-byte signature")
	}
}

func TestParseAndVerifyRootFull(t *testing.T) {
	key := mustGenKey(t)
	loc := linkEntry{pubkey: key.PubKey(), domain: "example.org"}

	r := rootEntry{eroot: hashEntry("nodes:x"), lroot: hashEntry("tree://y@z"), seq: 7}
	r = signRoot(t, key, r)
	text := rootText(r)

	got, err := parseAndVerifyRoot(text, loc)
	if err != nil {
		t.Fatalf("parseAndVerifyRoot: %v", err)
	}
	if got.seq != 7 {
		t.Fatalf("seq = %d, want 7", got.seq)
	}
}

func TestParseAndVerifyRootRejectsWrongKey(t *testing.T) {
	key := mustGenKey(t)
	wrong := mustGenKey(t)
	loc := linkEntry{pubkey: wrong.PubKey(), domain: "example.org"}

	r := rootEntry{eroot: hashEntry("nodes:x"), lroot: hashEntry("tree://y@z"), seq: 1}
	r = signRoot(t, key, r)
	text := rootText(r)

	if _, err := parseAndVerifyRoot(text, loc); err != errInvalidSig {
		t.Fatalf("err = %v, want errInvalidSig", err)
	}
}
