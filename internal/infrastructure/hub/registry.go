package hub

import "sync"

// Registry is the process-wide set of live subscriptions grouped by
// transaction reference. Empty groups are never kept.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscription]struct{}
	total  int
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]map[*Subscription]struct{})}
}

// Subscribe adds sub to txRef's group, creating the group if needed.
func (r *Registry) Subscribe(txRef string, sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[txRef]
	if !ok {
		group = make(map[*Subscription]struct{})
		r.groups[txRef] = group
	}
	if _, exists := group[sub]; exists {
		return
	}
	group[sub] = struct{}{}
	r.total++
}

// Unsubscribe removes sub and reports whether it was present. Removing an
// absent subscription is a no-op.
func (r *Registry) Unsubscribe(txRef string, sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[txRef]
	if !ok {
		return false
	}
	if _, exists := group[sub]; !exists {
		return false
	}
	delete(group, sub)
	r.total--
	if len(group) == 0 {
		delete(r.groups, txRef)
	}
	return true
}

func (r *Registry) CountSubscribers(txRef string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[txRef])
}

func (r *Registry) CountAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

func (r *Registry) CountTopics() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Subscribers returns a copy of txRef's group so callers can write without
// holding the lock.
func (r *Registry) Subscribers(txRef string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group := r.groups[txRef]
	subs := make([]*Subscription, 0, len(group))
	for sub := range group {
		subs = append(subs, sub)
	}
	return subs
}

// Snapshot returns every subscription across all groups.
func (r *Registry) Snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]*Subscription, 0, r.total)
	for _, group := range r.groups {
		for sub := range group {
			subs = append(subs, sub)
		}
	}
	return subs
}

// Drain empties the registry and returns what it held.
func (r *Registry) Drain() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]*Subscription, 0, r.total)
	for _, group := range r.groups {
		for sub := range group {
			subs = append(subs, sub)
		}
	}
	r.groups = make(map[string]map[*Subscription]struct{})
	r.total = 0
	return subs
}
