package upstream

import "sync/atomic"

// Authorization holds the current Authorization header value.
//
// Readers never block and always see a complete value. Set publishes a new
// immutable snapshot; a reader that loaded the previous one keeps using it
// until its next Get, and the old string is collected once unreachable.
type Authorization struct {
	v atomic.Pointer[string]
}

// Get returns the current header value, or "" before the first Set.
func (a *Authorization) Get() string {
	p := a.v.Load()
	if p == nil {
		return ""
	}
	return *p
}

// Set replaces the header value.
func (a *Authorization) Set(value string) {
	a.v.Store(&value)
}

// SetBearer stores "Bearer <token>".
func (a *Authorization) SetBearer(token string) {
	a.Set("Bearer " + token)
}
