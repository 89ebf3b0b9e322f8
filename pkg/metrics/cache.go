package metrics

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// maxCacheEntries bounds the memo; it is reset wholesale when full.
const maxCacheEntries = 4096

type cacheKey struct {
	bunkID      string
	count       int
	fingerprint uint64
}

// statCache memoizes per-bunk statistics. Entries are keyed by the occupant
// set itself, so a stale entry can never be returned; Invalidate only frees
// memory early.
type statCache struct {
	mu      sync.Mutex
	entries map[cacheKey]BunkStats
	hits    int
	misses  int
}

func newStatCache() *statCache {
	return &statCache{entries: make(map[cacheKey]BunkStats)}
}

// fingerprint hashes the occupants in order together with the fields the
// statistics depend on.
func fingerprint(occupants []models.Camper) uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 64)
	for _, c := range occupants {
		buf = buf[:0]
		buf = append(buf, c.ID...)
		buf = append(buf, 0)
		buf = strconv.AppendInt(buf, int64(c.Grade), 10)
		buf = append(buf, 0)
		buf = strconv.AppendFloat(buf, c.Age, 'g', -1, 64)
		buf = append(buf, 0)
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

func (c *statCache) get(b models.Bunk, occupants []models.Camper) BunkStats {
	key := cacheKey{bunkID: b.ID, count: len(occupants), fingerprint: fingerprint(occupants)}

	c.mu.Lock()
	if st, ok := c.entries[key]; ok && st.Capacity == b.Capacity {
		c.hits++
		c.mu.Unlock()
		return st
	}
	c.misses++
	c.mu.Unlock()

	st := bunkStats(b, occupants)

	c.mu.Lock()
	if len(c.entries) >= maxCacheEntries {
		c.entries = make(map[cacheKey]BunkStats)
	}
	c.entries[key] = st
	c.mu.Unlock()
	return st
}

func (c *statCache) invalidate(bunkID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.bunkID == bunkID {
			delete(c.entries, k)
		}
	}
}

func (c *statCache) stats() (hits, misses, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}
