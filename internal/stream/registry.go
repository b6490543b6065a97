package stream

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrSubscriberClosed is returned by Send once a subscriber has closed.
	ErrSubscriberClosed = errors.New("subscriber closed")

	// ErrBackpressure is returned by Send when the subscriber's queue is full.
	ErrBackpressure = errors.New("subscriber send queue full")
)

// Subscriber is one open stream connection to a remote client.
type Subscriber interface {
	// ID uniquely identifies the subscriber within a Registry.
	ID() string
	// Send queues payload for delivery. It must not block on network I/O.
	Send(payload []byte) error
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Registry tracks the currently open subscribers. All methods are safe for
// concurrent use; the lock is never held while calling into a subscriber.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	nextSeq uint64

	logger  *slog.Logger
	observe func(size int)
}

type registryEntry struct {
	subscriber   Subscriber
	seq          uint64
	registeredAt time.Time
}

// NewRegistry creates an empty registry. observe, if non-nil, is called with
// the new size after every membership change.
func NewRegistry(logger *slog.Logger, observe func(size int)) *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
		logger:  logger,
		observe: observe,
	}
}

// Register adds sub to the registry. It returns false without modifying the
// registry if a subscriber with the same ID is already registered.
func (r *Registry) Register(sub Subscriber) bool {
	r.mu.Lock()
	if _, exists := r.entries[sub.ID()]; exists {
		r.mu.Unlock()
		return false
	}
	r.nextSeq++
	r.entries[sub.ID()] = registryEntry{
		subscriber:   sub,
		seq:          r.nextSeq,
		registeredAt: time.Now(),
	}
	size := len(r.entries)
	r.mu.Unlock()

	r.logger.Info("Subscriber registered",
		slog.String("subscriber_id", sub.ID()),
		slog.Int("subscribers", size),
	)
	r.notify(size)
	return true
}

// Unregister removes the subscriber with the given ID. Unknown IDs and
// repeated calls are no-ops and return false.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	if _, exists := r.entries[id]; !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	size := len(r.entries)
	r.mu.Unlock()

	r.logger.Info("Subscriber unregistered",
		slog.String("subscriber_id", id),
		slog.Int("subscribers", size),
	)
	r.notify(size)
	return true
}

// Get returns the registered subscriber with the given ID.
func (r *Registry) Get(id string) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	return entry.subscriber, exists
}

// Snapshot returns a point-in-time copy of the registered subscribers in
// registration order. Later membership changes do not affect the returned
// slice.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	subs := make([]Subscriber, len(entries))
	for i, entry := range entries {
		subs[i] = entry.subscriber
	}
	return subs
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SubscriberInfo describes a registered subscriber for monitoring endpoints.
type SubscriberInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Info returns monitoring details for every registered subscriber in
// registration order.
func (r *Registry) Info() []SubscriberInfo {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	infos := make([]SubscriberInfo, len(entries))
	for i, entry := range entries {
		infos[i] = SubscriberInfo{
			ID:           entry.subscriber.ID(),
			RegisteredAt: entry.registeredAt,
		}
		if addr, ok := entry.subscriber.(interface{ RemoteAddr() string }); ok {
			infos[i].RemoteAddr = addr.RemoteAddr()
		}
	}
	return infos
}

// CloseAll unregisters and closes every subscriber. Used on shutdown.
func (r *Registry) CloseAll() {
	for _, sub := range r.Snapshot() {
		r.Unregister(sub.ID())
		if err := sub.Close(); err != nil {
			r.logger.Debug("Error closing subscriber",
				slog.String("subscriber_id", sub.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Registry) notify(size int) {
	if r.observe != nil {
		r.observe(size)
	}
}
