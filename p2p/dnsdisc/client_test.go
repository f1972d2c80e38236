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
	"context"
	"testing"
)

func TestResolveEntryHashMismatch(t *testing.T) {
	domain := "mismatch.example.org"
	hash := hashEntry("branch-text-actually-used")
	res := fakeResolver{
		hash + "." + domain: []string{branchPrefix}, // doesn't hash to `hash`
	}
	c := NewClient(Config{Resolver: res})
	if _, err := c.resolveEntry(context.Background(), domain, hash); err != errHashMismatch {
		t.Fatalf("err = %v, want errHashMismatch", err)
	}
}

func TestResolveEntryCaches(t *testing.T) {
	domain := "cached.example.org"
	text := branchPrefix
	hash := hashEntry(text)
	calls := 0
	res := countingResolver{fakeResolver{hash + "." + domain: []string{text}}, &calls}

	c := NewClient(Config{Resolver: res})
	if _, err := c.resolveEntry(context.Background(), domain, hash); err != nil {
		t.Fatal(err)
	}
	if _, err := c.resolveEntry(context.Background(), domain, hash); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("resolver called %d times, want 1 (second lookup should hit cache)", calls)
	}
}

type countingResolver struct {
	fakeResolver
	calls *int
}

func (c countingResolver) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	*c.calls++
	return c.fakeResolver.LookupTXT(ctx, domain)
}

func TestResolveRootNoRecord(t *testing.T) {
	res := fakeResolver{"empty.example.org": []string{"not-a-root-record"}}
	c := NewClient(Config{Resolver: res})
	loc := linkEntry{domain: "empty.example.org"}
	if _, err := c.resolveRoot(context.Background(), loc); err != errNoRoot {
		t.Fatalf("err = %v, want errNoRoot", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Timeout == 0 || cfg.RecheckInterval == 0 || cfg.CacheLimit == 0 {
		t.Fatalf("withDefaults left a zero field: %+v", cfg)
	}
}
