package realtime

import (
	"sync"

	"scoresws/cmd/scores"
)

// History retains the newest records for resuming clients.
//
// Publishing, merging and eviction happen in one critical section, and so
// does arming a client. A client armed before a commit receives the new
// records by broadcast; one armed after it finds them in the replay. Either
// way every record reaches every client exactly once, in ascending id order.
type History struct {
	limit int

	mu  sync.Mutex
	set scores.RecordSet
}

// NewHistory returns an empty History holding at most limit records.
func NewHistory(limit int) *History {
	return &History{limit: max(limit, 1)}
}

// Commit publishes the records of batch with an id greater than prev (all
// records when prev is nil) and not yet retained, merges batch into the
// history and evicts the smallest ids down to the limit.
//
// publish runs under the history lock and must not block.
func (h *History) Commit(batch *scores.RecordSet, prev *uint64, publish func([]scores.Record)) (published, evicted, retained int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	candidates := batch.All()
	if prev != nil {
		candidates = batch.After(*prev)
	}

	fresh := make([]scores.Record, 0, len(candidates))
	for _, rec := range candidates {
		if !h.set.Contains(rec.ID) {
			fresh = append(fresh, rec)
		}
	}
	if len(fresh) > 0 && publish != nil {
		publish(fresh)
	}

	h.set.Merge(batch)
	evicted = h.set.Truncate(h.limit)
	return len(fresh), evicted, h.set.Len()
}

// Arm queues every retained record with an id greater than resume (all when
// resume is nil) on c and enables broadcasts to it.
func (h *History) Arm(c *Client, resume *uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := h.set.All()
	if resume != nil {
		replay = h.set.After(*resume)
	}
	c.arm(replay)
	return len(replay)
}

// Disarm stops broadcasts to c and returns the greatest retained id (0 when
// empty). Every record up to that id is either delivered or still queued on c.
func (h *History) Disarm(c *Client) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.disarm()
	newest, _ := h.set.Max()
	return newest
}

// Newest returns the greatest retained id, 0 when empty.
func (h *History) Newest() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	newest, _ := h.set.Max()
	return newest
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.set.Len()
}

// Snapshot returns a copy of the retained records in ascending order.
func (h *History) Snapshot() []scores.Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	all := h.set.All()
	out := make([]scores.Record, len(all))
	copy(out, all)
	return out
}
