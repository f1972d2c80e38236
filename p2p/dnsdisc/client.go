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
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/xdagj/xdagj-p2p-go/logger"
	"github.com/xdagj/xdagj-p2p-go/logger/glog"
)

// Resolver abstracts DNS TXT lookup so tests can supply a fake
// directory, following the corpus's "Resolver interface" habit seen
// throughout its DNS-sync reference code.
type Resolver interface {
	LookupTXT(ctx context.Context, domain string) ([]string, error)
}

// Config holds Client construction parameters.
type Config struct {
	Timeout         time.Duration // bounded DNS lookup timeout, spec.md §5 suspension point 1
	RecheckInterval time.Duration // spec.md §4.4 "recheckInterval = 3600s"
	CacheLimit      int           // spec.md §4.4 "bounded LRU (size 2000)"
	Resolver        Resolver
}

func (cfg Config) withDefaults() Config {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RecheckInterval == 0 {
		cfg.RecheckInterval = 3600 * time.Second
	}
	if cfg.CacheLimit == 0 {
		cfg.CacheLimit = 2000
	}
	return cfg
}

// Client is the DNS Sync Client of spec.md §4.4/module G.
type Client struct {
	cfg     Config
	entries *lru.Cache
}

// NewClient constructs a Client. cfg.Resolver must be set by the
// caller (net.Resolver satisfies Resolver via LookupTXT's signature
// once wrapped; see dnsmanager for the production wiring).
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	cache, err := lru.New(cfg.CacheLimit)
	if err != nil {
		panic(err) // only fails for a non-positive size, which withDefaults prevents
	}
	return &Client{cfg: cfg, entries: cache}
}

// SyncTree downloads an entire tree at the given "tree://" URL,
// returning every resolved entry keyed by hash (spec.md §4.4 "syncAll").
func (c *Client) SyncTree(ctx context.Context, url string) (map[string]entry, error) {
	loc, err := parseLink(url)
	if err != nil {
		return nil, fmt.Errorf("dnsdisc: invalid tree URL: %w", err)
	}
	ct := newClientTree(c, &linkCache{}, loc)
	dest := make(map[string]entry)
	if err := ct.syncAll(ctx, dest); err != nil {
		return nil, err
	}
	return dest, nil
}

// resolveRoot retrieves and verifies the root entry for a tree,
// per spec.md §4.4 "Root resolution".
func (c *Client) resolveRoot(ctx context.Context, loc linkEntry) (rootEntry, error) {
	txts, err := c.cfg.Resolver.LookupTXT(ctx, loc.domain)
	if err != nil {
		return rootEntry{}, fmt.Errorf("dnsdisc: root lookup for %s: %w", loc.domain, err)
	}
	if len(txts) == 0 {
		return rootEntry{}, errNoRoot
	}
	for _, txt := range txts {
		if strings.HasPrefix(txt, rootPrefix) {
			return parseAndVerifyRoot(txt, loc)
		}
	}
	return rootEntry{}, errNoRoot
}

// resolveEntry retrieves an entry by hash under domain, consulting the
// bounded LRU cache first, per spec.md §4.4 "Entry resolution".
func (c *Client) resolveEntry(ctx context.Context, domain, hash string) (entry, error) {
	cacheKey := domain + "/" + hash
	if v, ok := c.entries.Get(cacheKey); ok {
		return v.(entry), nil
	}
	e, err := c.doResolveEntry(ctx, domain, hash)
	if err != nil {
		return nil, err
	}
	c.entries.Add(cacheKey, e)
	return e, nil
}

func (c *Client) doResolveEntry(ctx context.Context, domain, hash string) (entry, error) {
	name := hash + "." + domain
	txts, err := c.cfg.Resolver.LookupTXT(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("dnsdisc: entry lookup for %s: %w", name, err)
	}
	// Multi-chunk TXT concatenation, ignoring embedded quotes
	// (spec.md §6 "DNS TXT format").
	joined := strings.ReplaceAll(strings.Join(txts, ""), `"`, "")
	e, err := parseEntry(joined)
	if err != nil {
		return nil, fmt.Errorf("dnsdisc: parse entry %s: %w", name, err)
	}
	if got := hashEntry(joined); !strings.EqualFold(got, hash) {
		glog.V(logger.Warn).Infof("dnsdisc: hash mismatch for %s: got %s want %s", name, got, hash)
		return nil, errHashMismatch
	}
	return e, nil
}
