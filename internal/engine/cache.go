package engine

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/tilegraph/internal/core/observability"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

const numShards = 32

type tileKey struct {
	node    string
	channel string
	rect    raster.Rectangle
}

func (k tileKey) hash() uint64 {
	b := make([]byte, 0, len(k.node)+len(k.channel)+48)
	b = append(b, k.node...)
	b = append(b, 0)
	b = append(b, k.channel...)
	b = append(b, 0)
	for _, v := range [4]int{k.rect.X, k.rect.Y, k.rect.Width, k.rect.Height} {
		b = strconv.AppendInt(b, int64(v), 10)
		b = append(b, ',')
	}
	return xxhash.Sum64(b)
}

// entry is one key's computation. done is closed once tile or err is set;
// both are read-only afterwards.
type entry struct {
	done chan struct{}
	tile *raster.Tile
	err  error
}

func (e *entry) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

type shard struct {
	mu sync.Mutex
	m  map[tileKey]*entry
}

// tileCache holds in-flight and completed tiles of one run. Failed entries
// are removed before their waiters wake, so an error is never served to a
// later request.
type tileCache struct {
	shards [numShards]shard

	// nil when unbounded
	lru     *lru.Cache[tileKey, *entry]
	closing atomic.Bool
	evicted atomic.Int64
}

func newTileCache(maxTiles int) *tileCache {
	c := &tileCache{}
	for i := range c.shards {
		c.shards[i].m = make(map[tileKey]*entry)
	}
	if maxTiles > 0 {
		l, _ := lru.NewWithEvict[tileKey, *entry](maxTiles, c.onEvict)
		c.lru = l
	}
	return c
}

func (c *tileCache) pick(k tileKey) *shard {
	return &c.shards[k.hash()&(numShards-1)]
}

// claim returns the entry for k. owner is true when the caller created it
// and must complete it.
func (c *tileCache) claim(k tileKey) (e *entry, owner bool) {
	s := c.pick(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.m[k]; e != nil {
		return e, false
	}
	e = &entry{done: make(chan struct{})}
	s.m[k] = e
	return e, true
}

func (c *tileCache) complete(k tileKey, e *entry, t *raster.Tile, err error) {
	if err != nil {
		e.err = err
		c.remove(k, e)
		close(e.done)
		return
	}
	e.tile = t
	close(e.done)
	if c.lru != nil {
		c.lru.Add(k, e)
	}
}

func (c *tileCache) touch(k tileKey) {
	if c.lru != nil {
		c.lru.Get(k)
	}
}

func (c *tileCache) remove(k tileKey, e *entry) {
	s := c.pick(k)
	s.mu.Lock()
	if s.m[k] == e {
		delete(s.m, k)
	}
	s.mu.Unlock()
}

func (c *tileCache) onEvict(k tileKey, e *entry) {
	c.remove(k, e)
	if c.closing.Load() {
		return
	}
	c.evicted.Add(1)
	observability.IncTileCache("evicted")
}

// size counts completed tiles.
func (c *tileCache) size() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, e := range s.m {
			if e.finished() {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

func (c *tileCache) purge() {
	c.closing.Store(true)
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.m = make(map[tileKey]*entry)
		s.mu.Unlock()
	}
	if c.lru != nil {
		c.lru.Purge()
	}
}
