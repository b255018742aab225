// Package cache models the timing of a cache hierarchy. Caches track tags
// only: data always lives in target memory, which the functional model
// reads and writes directly.
package cache

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds the geometry and timing of one cache.
type Config struct {
	Name      string
	Sets      int
	Ways      int
	BlockSize int

	// HitLatency is the cost of a hit. MissLatency is the cost of a miss
	// when the cache has no next level.
	HitLatency  uint64
	MissLatency uint64
}

// Size returns the capacity in bytes.
func (c Config) Size() int {
	return c.Sets * c.Ways * c.BlockSize
}

// Validate checks that sets and block size are powers of two.
func (c Config) Validate() error {
	if c.Sets <= 0 || c.Sets&(c.Sets-1) != 0 {
		return fmt.Errorf("%s: sets %d is not a power of 2", c.Name, c.Sets)
	}
	if c.BlockSize < 8 || c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("%s: block size %d is not a power of 2 of at least 8", c.Name, c.BlockSize)
	}
	if c.Ways <= 0 {
		return fmt.Errorf("%s: ways must be > 0", c.Name)
	}
	return nil
}

// AccessResult contains the result of a cache access.
type AccessResult struct {
	// Hit indicates whether the access hit in this level.
	Hit bool
	// Latency is the number of cycles the access takes, including lower
	// levels on a miss.
	Latency uint64
	// Evicted is true if a valid block was replaced.
	Evicted bool
	// EvictedAddr is the address of the evicted block.
	EvictedAddr uint64
	// Writeback is true if the evicted block was dirty.
	Writeback bool
}

// Level is anything that can service a miss.
type Level interface {
	Access(addr uint64, size int, store bool) AccessResult
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// MissRate returns misses over accesses.
func (s Statistics) MissRate() float64 {
	total := s.Reads + s.Writes
	if total == 0 {
		return 0
	}
	return float64(s.Misses) / float64(total)
}

// Cache is a write-back, write-allocate cache with LRU replacement, built on
// the Akita tag directory.
type Cache struct {
	config    Config
	directory *akitacache.DirectoryImpl
	next      Level
	stats     Statistics
}

// New creates a cache. Misses go to next when it is not nil.
func New(config Config, next Level) *Cache {
	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			config.Sets,
			config.Ways,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		next: next,
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

func (c *Cache) blockAddr(addr uint64) uint64 {
	return addr &^ uint64(c.config.BlockSize-1)
}

// Access looks up addr and allocates the block on a miss.
func (c *Cache) Access(addr uint64, size int, store bool) AccessResult {
	if store {
		c.stats.Writes++
	} else {
		c.stats.Reads++
	}

	blockAddr := c.blockAddr(addr)
	block := c.directory.Lookup(0, blockAddr)

	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		if store {
			block.IsDirty = true
		}
		return AccessResult{Hit: true, Latency: c.config.HitLatency}
	}

	c.stats.Misses++
	return c.handleMiss(blockAddr, store)
}

func (c *Cache) handleMiss(blockAddr uint64, store bool) AccessResult {
	result := AccessResult{Latency: c.config.MissLatency}

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return result
	}

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag

		if victim.IsDirty {
			c.stats.Writebacks++
			result.Writeback = true
			if c.next != nil {
				c.next.Access(victim.Tag, c.config.BlockSize, true)
			}
		}
	}

	if c.next != nil {
		fill := c.next.Access(blockAddr, c.config.BlockSize, false)
		result.Latency = c.config.HitLatency + fill.Latency
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = store
	c.directory.Visit(victim)

	return result
}

// Contains reports whether the block holding addr is cached.
func (c *Cache) Contains(addr uint64) bool {
	block := c.directory.Lookup(0, c.blockAddr(addr))
	return block != nil && block.IsValid
}

// Invalidate drops the block holding addr without writing it back.
func (c *Cache) Invalidate(addr uint64) {
	block := c.directory.Lookup(0, c.blockAddr(addr))
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush writes back every dirty block and invalidates the cache.
func (c *Cache) Flush() {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				c.stats.Writebacks++
				if c.next != nil {
					c.next.Access(block.Tag, c.config.BlockSize, true)
				}
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}

// Reset invalidates every block and clears statistics.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}
