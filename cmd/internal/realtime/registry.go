package realtime

import (
	"sync"
	"sync/atomic"

	"scoresws/cmd/scores"
)

// Registry maps a connection's remote address to its Client.
//
// Connections come and go while the engine iterates the registry on every
// tick, so it is backed by a sync.Map instead of a mutex-guarded map.
type Registry struct {
	m sync.Map // string -> *Client
	n atomic.Int64
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers c under key. A client already registered under the same key
// is replaced and closed.
func (r *Registry) Add(key string, c *Client) {
	prev, loaded := r.m.Swap(key, c)
	if !loaded {
		r.n.Add(1)
		return
	}
	if old, ok := prev.(*Client); ok && old != c {
		old.Close()
	}
}

// Remove unregisters c if it is still the client stored under key.
func (r *Registry) Remove(key string, c *Client) {
	if r.m.CompareAndDelete(key, c) {
		r.n.Add(-1)
	}
}

// Get returns the client registered under key.
func (r *Registry) Get(key string) (*Client, bool) {
	v, ok := r.m.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return int(r.n.Load())
}

// Range calls fn for each registered client until fn returns false.
func (r *Registry) Range(fn func(key string, c *Client) bool) {
	r.m.Range(func(k, v any) bool {
		return fn(k.(string), v.(*Client))
	})
}

// Broadcast queues recs on every armed client and returns how many accepted
// them. Failed deliveries are ignored.
func (r *Registry) Broadcast(recs []scores.Record) int {
	delivered := 0
	r.Range(func(_ string, c *Client) bool {
		if c.Deliver(recs) {
			delivered++
		}
		return true
	})
	return delivered
}
