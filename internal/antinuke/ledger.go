package antinuke

import (
	"hash/fnv"
	"sync"
	"time"

	"nukeguard/internal/utils"
)

const ledgerShards = 64

// Ledger tracks recent action timestamps per (guild, actor, action) key.
// Keys are spread over a fixed shard array so records for distinct shards
// proceed in parallel. Record and Sweep both run under the shard lock, so a
// sweep can never unlink a window between a record's lookup and its append.
// Entries are dropped by Sweep once their window is empty.
type Ledger struct {
	shards [ledgerShards]ledgerShard
}

type ledgerShard struct {
	mu      sync.Mutex
	windows map[string]*utils.SlidingWindow
}

func NewLedger() *Ledger {
	l := &Ledger{}
	for i := range l.shards {
		l.shards[i].windows = make(map[string]*utils.SlidingWindow)
	}
	return l
}

// Record appends now to the key's window, prunes entries older than window,
// and returns the resulting in-window count. The shard lock is held across
// the lookup and the append.
func (l *Ledger) Record(guildID, actorID string, action ActionType, window time.Duration, now time.Time) int {
	key := ledgerKey(guildID, actorID, action)
	shard := l.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	w := shard.windows[key]
	if w == nil {
		w = utils.NewSlidingWindow()
		shard.windows[key] = w
	}
	return w.Add(now, window)
}

// Count prunes and returns the current count without recording.
func (l *Ledger) Count(guildID, actorID string, action ActionType, now time.Time) int {
	key := ledgerKey(guildID, actorID, action)
	shard := l.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	w := shard.windows[key]
	if w == nil {
		return 0
	}
	return w.Count(now)
}

// Sweep drops keys whose windows are empty after pruning. Intended for a
// background ticker; bounds memory held for inactive actors.
func (l *Ledger) Sweep(now time.Time) {
	for i := range l.shards {
		shard := &l.shards[i]
		shard.mu.Lock()
		for key, w := range shard.windows {
			if w.Count(now) == 0 {
				delete(shard.windows, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Len reports the number of live keys.
func (l *Ledger) Len() int {
	total := 0
	for i := range l.shards {
		shard := &l.shards[i]
		shard.mu.Lock()
		total += len(shard.windows)
		shard.mu.Unlock()
	}
	return total
}

func (l *Ledger) shard(key string) *ledgerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%ledgerShards]
}

func ledgerKey(guildID, actorID string, action ActionType) string {
	return guildID + ":" + actorID + ":" + string(action)
}
