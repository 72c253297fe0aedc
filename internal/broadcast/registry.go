package broadcast

import (
	"sort"
	"sync"
)

// Registry maps channel names to their subscribers.
//
// Each channel's slice is copy-on-write: writers build a new slice under the lock and swap it in, so
// a Snapshot can be iterated without the lock and is never seen half-updated. Callers must not
// modify a returned snapshot.
type Registry struct {
	mu       sync.Mutex
	channels map[string][]*Subscriber
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string][]*Subscriber)}
}

// Add appends s to channel, creating the channel if needed, and returns the new subscriber count.
// Duplicate subscriptions are independent entries.
func (r *Registry) Add(channel string, s *Subscriber) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.channels[channel]
	next := make([]*Subscriber, len(current), len(current)+1)
	copy(next, current)
	next = append(next, s)
	r.channels[channel] = next
	return len(next)
}

// Snapshot returns the channel's subscribers at this instant, or nil for an unknown channel.
func (r *Registry) Snapshot(channel string) []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[channel]
}

// Replace commits the outcome of a pass over snapshot: members of snapshot that are not in
// survivors are removed. Subscribers added to the channel after snapshot was taken are kept.
// An entry left empty is deleted. Returns the number of subscribers removed.
func (r *Registry) Replace(channel string, snapshot, survivors []*Subscriber) int {
	alive := make(map[*Subscriber]struct{}, len(survivors))
	for _, s := range survivors {
		alive[s] = struct{}{}
	}
	dead := make(map[*Subscriber]struct{}, len(snapshot))
	for _, s := range snapshot {
		if _, ok := alive[s]; !ok {
			dead[s] = struct{}{}
		}
	}
	if len(dead) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.channels[channel]
	next := make([]*Subscriber, 0, len(current))
	for _, s := range current {
		if _, ok := dead[s]; !ok {
			next = append(next, s)
		}
	}
	removed := len(current) - len(next)

	if len(next) == 0 {
		delete(r.channels, channel)
	} else {
		r.channels[channel] = next
	}
	return removed
}

func (r *Registry) ClientCount(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[channel])
}

// Channels returns the names of all non-empty channels, sorted.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Stats returns the number of channels and the total number of subscribers.
func (r *Registry) Stats() (channels, subscribers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, subs := range r.channels {
		subscribers += len(subs)
	}
	return len(r.channels), subscribers
}

// Drain empties the registry and returns what it held.
func (r *Registry) Drain() map[string][]*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := r.channels
	r.channels = make(map[string][]*Subscriber)
	return drained
}
