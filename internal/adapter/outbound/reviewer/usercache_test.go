package reviewer

import (
	"container/list"
	"testing"
)

func TestUserCacheGetPutRoundTrip(t *testing.T) {
	c := NewUserCache(16)
	c.Put("U1", "Alice")

	name, ok := c.Get("U1")
	if !ok || name != "Alice" {
		t.Fatalf("expected Alice, got %q ok=%v", name, ok)
	}

	if _, ok := c.Get("U2"); ok {
		t.Fatal("expected miss for unknown user")
	}
}

// put and get on a single shard directly, bypassing the hash-based shard
// selection, so eviction order can be tested deterministically.
func put(sh *userCacheShard, userID, displayName string) {
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

func get(sh *userCacheShard, userID string) (string, bool) {
	el, ok := sh.items[userID]
	if !ok {
		return "", false
	}
	sh.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).displayName, true
}

func TestUserCacheShardEvictsLeastRecentlyUsed(t *testing.T) {
	sh := &userCacheShard{capacity: 2, ll: list.New(), items: make(map[string]*list.Element)}

	put(sh, "a", "Alice")
	put(sh, "b", "Bob")
	get(sh, "a") // promote a, so b becomes least-recently-used
	put(sh, "c", "Carol")

	if _, ok := get(sh, "b"); ok {
		t.Fatal("expected b to be evicted as least-recently-used")
	}
	if _, ok := get(sh, "a"); !ok {
		t.Fatal("expected a (recently promoted) to survive eviction")
	}
	if _, ok := get(sh, "c"); !ok {
		t.Fatal("expected newly inserted c to be present")
	}
}
