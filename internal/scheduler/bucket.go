package scheduler

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"
)

// BucketHash is the stable hash used to place a conversation key.
func BucketHash(key string) uint64 {
	sum := blake3.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}

// Capacity is the most conversations any bucket holds when n conversations
// are spread over buckets.
func Capacity(n, buckets int) int {
	if buckets <= 0 || n <= 0 {
		return 0
	}
	return (n + buckets - 1) / buckets
}

// Assign places each key in hash(key) % buckets, probing forward to the next
// bucket once a bucket reaches Capacity. Keys are placed in (hash, key)
// order, so the result depends only on the key set.
func Assign(keys []string, buckets int) map[string]int {
	out := make(map[string]int, len(keys))
	if buckets <= 0 || len(keys) == 0 {
		return out
	}

	type hashed struct {
		key  string
		hash uint64
	}
	items := make([]hashed, 0, len(keys))
	for _, k := range keys {
		if _, dup := out[k]; dup {
			continue
		}
		out[k] = -1
		items = append(items, hashed{key: k, hash: BucketHash(k)})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].hash != items[j].hash {
			return items[i].hash < items[j].hash
		}
		return items[i].key < items[j].key
	})

	limit := Capacity(len(items), buckets)
	load := make([]int, buckets)
	for _, it := range items {
		b := int(it.hash % uint64(buckets))
		for load[b] >= limit {
			b = (b + 1) % buckets
		}
		load[b]++
		out[it.key] = b
	}
	return out
}
