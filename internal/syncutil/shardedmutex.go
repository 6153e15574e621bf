// Package syncutil holds small concurrency helpers.
package syncutil

import (
	"hash/maphash"
	"sync"
)

const shardCount = 256

var seed = maphash.MakeSeed()

// ShardedMutex serializes work per string key, typically a record ID, using a
// fixed pool of mutexes. Distinct keys may share a shard.
// The zero value is ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[maphash.String(seed, key)%shardCount]
	mu.Lock()
	return mu.Unlock
}
