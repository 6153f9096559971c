package lockmgr

import (
	"context"
	"hash/fnv"
	"sync"
)

const defaultShards = 64

// Table is an in-process Manager: a sharded table of holders keyed by lock
// name. It serializes callers sharing one process and one store pool.
type Table struct {
	shards []shard
}

type shard struct {
	mu      sync.Mutex
	holders map[string]string
}

// NewTable returns a Table with the given number of shards. Values below one
// fall back to the default.
func NewTable(shards int) *Table {
	if shards < 1 {
		shards = defaultShards
	}
	t := &Table{shards: make([]shard, shards)}
	for i := range t.shards {
		t.shards[i].holders = make(map[string]string)
	}
	return t
}

func (t *Table) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.shards[h.Sum32()%uint32(len(t.shards))]
}

// TryAcquire implements Manager.
func (t *Table) TryAcquire(ctx context.Context, key, holder string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.holders[key]; held {
		return false, nil
	}
	s.holders[key] = holder
	return true, nil
}

// Release implements Manager.
func (t *Table) Release(_ context.Context, key, holder string) (bool, error) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, held := s.holders[key]; !held || current != holder {
		return false, nil
	}
	delete(s.holders, key)
	return true, nil
}

// ForceRelease implements Manager.
func (t *Table) ForceRelease(_ context.Context, key string) (bool, error) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.holders[key]; !held {
		return false, nil
	}
	delete(s.holders, key)
	return true, nil
}

// Holder returns the current holder of key.
func (t *Table) Holder(key string) (string, bool) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holders[key]
	return h, ok
}
