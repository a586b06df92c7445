// Package cache persists decompiled interfaces keyed by bytecode.
package cache

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/log"
	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"

	"github.com/jalbrekt85/heimdall-go/core/abi"
	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/absint"
)

const (
	suffixResolved   = "_resolved"
	suffixUnresolved = "_unresolved"
)

// Mode holds the options that change a decompiled result.
type Mode struct {
	SkipResolving bool
	Bounds        absint.Bounds
}

func (m Mode) suffix() string {
	suffix := suffixResolved
	if m.SkipResolving {
		suffix = suffixUnresolved
	}
	if b := m.Bounds.Normalize(); b != absint.DefaultBounds() {
		suffix += fmt.Sprintf("_%d_%d_%d", b.MaxSteps, b.MaxPaths, b.MaxBlockVisits)
	}
	return suffix
}

// Key derives the cache key of a bytecode hex string: the blake3 hash of
// the hex text without its 0x prefix, followed by the resolution mode and,
// for non-default bounds, the bounds.
func Key(hexCode string, m Mode) []byte {
	clean := strings.TrimPrefix(strings.TrimPrefix(hexCode, "0x"), "0X")
	sum := blake3.Sum256([]byte(clean))
	return append(sum[:], m.suffix()...)
}

// Stats counts cache traffic.
type Stats struct {
	Hits   uint64
	Misses uint64
	Writes uint64
	Errors uint64
}

// Cache is a badger-backed store of msgpack-encoded ABIs.
type Cache struct {
	db *badger.DB

	hits     atomic.Uint64
	misses   atomic.Uint64
	writes   atomic.Uint64
	failures atomic.Uint64
}

// Open opens or creates a cache in dir. An empty dir keeps the cache in
// memory.
func Open(dir string) (*Cache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cache dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
		opts.ValueLogFileSize = 64 << 20
	}
	opts.Logger = nil
	opts.BlockCacheSize = 32 << 20
	opts.IndexCacheSize = 16 << 20
	opts.NumMemtables = 2
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close flushes and closes the store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached interface for hexCode, if present.
func (c *Cache) Get(hexCode string, m Mode) (*abi.DecompiledABI, bool, error) {
	var out abi.DecompiledABI
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(hexCode, m))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return msgpack.Unmarshal(v, &out)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		c.misses.Add(1)
		return nil, false, nil
	case err != nil:
		c.failures.Add(1)
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	c.hits.Add(1)
	return &out, true, nil
}

// Has reports whether an entry exists without decoding it.
func (c *Cache) Has(hexCode string, m Mode) bool {
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(Key(hexCode, m))
		return err
	})
	if err == nil {
		c.hits.Add(1)
		return true
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		c.failures.Add(1)
		log.Debug("Cache lookup failed", "err", err)
	} else {
		c.misses.Add(1)
	}
	return false
}

// Put stores an interface.
func (c *Cache) Put(hexCode string, m Mode, d *abi.DecompiledABI) error {
	v, err := msgpack.Marshal(d)
	if err != nil {
		c.failures.Add(1)
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(Key(hexCode, m), v)
	}); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("cache put: %w", err)
	}
	c.writes.Add(1)
	return nil
}

// Entry is one pending write of PutBatch.
type Entry struct {
	Hex  string
	Mode Mode
	ABI  *abi.DecompiledABI
}

// PutBatch writes entries in a single batch.
func (c *Cache) PutBatch(entries []Entry) error {
	wb := c.db.NewWriteBatch()
	for _, e := range entries {
		v, err := msgpack.Marshal(e.ABI)
		if err != nil {
			wb.Cancel()
			c.failures.Add(1)
			return fmt.Errorf("cache encode: %w", err)
		}
		if err := wb.Set(Key(e.Hex, e.Mode), v); err != nil {
			wb.Cancel()
			c.failures.Add(1)
			return fmt.Errorf("cache batch: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("cache flush: %w", err)
	}
	c.writes.Add(uint64(len(entries)))
	return nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Writes: c.writes.Load(),
		Errors: c.failures.Load(),
	}
}
