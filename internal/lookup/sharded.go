package lookup

import (
	"context"
	"hash/fnv"
	"sync"
)

// shardedEngine fans a batch out across W independent windows, giving W·C
// total concurrency. Names are partitioned by hash so the same name always
// lands on the same shard, and per-shard results are merged into one map.
// Purely a throughput knob: single-window behavior is the contract.
type shardedEngine struct {
	shards []Engine
}

// NewSharded returns an Engine that partitions batches across the given
// shards. With one shard it returns that shard unchanged.
func NewSharded(shards []Engine) Engine {
	if len(shards) == 1 {
		return shards[0]
	}
	return &shardedEngine{shards: shards}
}

func (s *shardedEngine) LookupBatch(ctx context.Context, names []string) map[string]Result {
	buckets := make([][]string, len(s.shards))
	for _, name := range names {
		h := fnv.New32a()
		h.Write([]byte(name))
		idx := int(h.Sum32() % uint32(len(s.shards)))
		buckets[idx] = append(buckets[idx], name)
	}

	merged := make(map[string]Result, len(names))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		wg.Add(1)
		go func(shard Engine, bucket []string) {
			defer wg.Done()
			part := shard.LookupBatch(ctx, bucket)
			mu.Lock()
			defer mu.Unlock()
			for name, r := range part {
				merged[name] = r
			}
		}(s.shards[i], bucket)
	}
	wg.Wait()
	return merged
}
