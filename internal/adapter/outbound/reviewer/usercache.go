package reviewer

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const userCacheShards = 8

type cacheEntry struct {
	userID      string
	displayName string
}

type userCacheShard struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

// UserCache is a sharded, bounded LRU cache mapping a reviewer channel's
// user id to a display name, the same bounded-map-plus-eviction-list shape
// the teacher uses for its in-memory stores, sharded the way the approval
// pending map is so lookups from many concurrently polling goroutines don't
// serialize on one lock.
type UserCache struct {
	shards [userCacheShards]*userCacheShard
}

// NewUserCache creates a cache with the given total capacity, spread evenly
// across shards (minimum 1 entry per shard).
func NewUserCache(capacity int) *UserCache {
	perShard := capacity / userCacheShards
	if perShard < 1 {
		perShard = 1
	}
	c := &UserCache{}
	for i := range c.shards {
		c.shards[i] = &userCacheShard{
			capacity: perShard,
			ll:       list.New(),
			items:    make(map[string]*list.Element),
		}
	}
	return c
}

func (c *UserCache) shardFor(userID string) *userCacheShard {
	h := xxhash.Sum64String(userID)
	return c.shards[h%uint64(userCacheShards)]
}

// Get returns the cached display name, promoting the entry to most-recently
// used.
func (c *UserCache) Get(userID string) (string, bool) {
	sh := c.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	el, ok := sh.items[userID]
	if !ok {
		return "", false
	}
	sh.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).displayName, true
}

// Put inserts or updates a display name, evicting the least-recently-used
// entry in the shard if it is at capacity.
func (c *UserCache) Put(userID, displayName string) {
	sh := c.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if el, ok := sh.items[userID]; ok {
		el.Value.(*cacheEntry).displayName = displayName
		sh.ll.MoveToFront(el)
		return
	}

	el := sh.ll.PushFront(&cacheEntry{userID: userID, displayName: displayName})
	sh.items[userID] = el

	if sh.ll.Len() > sh.capacity {
		oldest := sh.ll.Back()
		if oldest != nil {
			sh.ll.Remove(oldest)
			delete(sh.items, oldest.Value.(*cacheEntry).userID)
		}
	}
}
