package drainloop

import (
	"sync"
	"weak"
)

// Registry tracks live handles using weak pointers, so that membership
// never keeps a handle alive. It uses a ring buffer strategy for
// efficient scavenging of entries whose handles were collected.
//
// Removal is deterministic by design: a handle leaves the registry when
// its release task brings the hold count to zero and calls
// [Registry.Unregister], not when a collector happens to run. The weak
// membership only guarantees the registry is never the thing keeping an
// abandoned handle alive.
//
// A Registry is an explicitly owned, injectable instance; there is no
// process-wide handle table.
type Registry struct {
	// OnFinalize, if non-nil, fires synchronously from Unregister for
	// each handle actually removed. Used for observability in tests
	// (e.g. verifying accumulation and reclamation).
	OnFinalize func(*Handle)

	// data stores weak pointers to handles, keyed by handle ID.
	data map[uint64]weak.Pointer[Handle]

	// ring is a circular buffer of IDs used for scavenging.
	// It allows deterministic checking of all handles over time.
	ring []uint64

	// head is the current cursor position in the ring for the scavenger.
	head int

	// nextID is the counter for generating unique handle IDs.
	nextID uint64
	mu     sync.RWMutex

	// scavengeMu serializes scavenge operations to prevent overlap
	// and to ensure compaction safety.
	scavengeMu sync.Mutex
}

// NewRegistry creates a new initialized registry.
func NewRegistry() *Registry {
	return &Registry{
		data:   make(map[uint64]weak.Pointer[Handle]),
		ring:   make([]uint64, 0, 1024), // Initial capacity
		nextID: 1,                       // Start at 1 so 0 is null marker
	}
}

// NewHandle creates a new handle with the given label, registers it,
// and returns it. The caller owns the strong reference; the registry
// holds only weak membership.
func (r *Registry) NewHandle(label string) *Handle {
	h := &Handle{label: label}
	wp := weak.Make(h)

	r.mu.Lock()
	defer r.mu.Unlock()

	h.id = r.nextID
	r.nextID++

	r.data[h.id] = wp
	r.ring = append(r.ring, h.id)

	return h
}

// Register adds an existing handle to the weak membership set.
// Idempotent: registering a handle that is already a member is a no-op.
// Handles created via NewHandle are already registered.
func (r *Registry) Register(h *Handle) {
	if h == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h.id == 0 {
		h.id = r.nextID
		r.nextID++
	} else if _, ok := r.data[h.id]; ok {
		return
	}

	r.data[h.id] = weak.Make(h)
	r.ring = append(r.ring, h.id)
}

// Unregister removes a handle from the membership set.
//
// A handle with a non-zero hold count is never removed, even if
// requested. Removal of an absent handle fails silently (idempotent).
// OnFinalize fires synchronously for each handle actually removed.
func (r *Registry) Unregister(h *Handle) {
	if h == nil {
		return
	}
	if h.HoldCount() > 0 {
		return
	}

	r.mu.Lock()
	_, ok := r.data[h.id]
	if ok {
		delete(r.data, h.id)
	}
	r.mu.Unlock()

	if ok && r.OnFinalize != nil {
		r.OnFinalize(h)
	}
}

// Count returns the current cardinality of the membership set,
// counting only handles that are still reachable. Side-effect-free.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int
	for _, wp := range r.data {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

// Scavenge performs a partial cleanup of dead entries.
// It iterates through a batch of the ring buffer, dropping entries
// whose handles were collected or finalized, and entries already
// removed by Unregister.
func (r *Registry) Scavenge(batchSize int) {
	r.scavengeMu.Lock()
	defer r.scavengeMu.Unlock()

	if batchSize <= 0 {
		return
	}

	r.mu.RLock()
	ringLen := len(r.ring)
	if ringLen == 0 {
		r.mu.RUnlock()
		return
	}

	start := r.head
	end := min(start+batchSize, ringLen)

	type item struct {
		id  uint64
		idx int
	}
	items := make([]item, 0, end-start)

	for i := start; i < end; i++ {
		if id := r.ring[i]; id != 0 {
			items = append(items, item{id, i})
		}
	}

	wps := make([]weak.Pointer[Handle], 0, len(items))
	stale := make([]item, 0, len(items))
	live := make([]item, 0, len(items))

	for _, it := range items {
		if wp, ok := r.data[it.id]; ok {
			wps = append(wps, wp)
			live = append(live, it)
		} else {
			// Removed by Unregister; ring slot is stale.
			stale = append(stale, it)
		}
	}

	nextHead := end
	if nextHead >= ringLen {
		nextHead = 0
	}
	r.mu.RUnlock()

	cycleCompleted := nextHead == 0

	// Perform checks (OUTSIDE LOCK)
	var itemsToRemove []item
	itemsToRemove = append(itemsToRemove, stale...)

	for i, it := range live {
		h := wps[i].Value()
		// Remove if GC'd (nil) OR finalized
		if h == nil || h.Finalized() {
			itemsToRemove = append(itemsToRemove, it)
		}
	}

	// Perform deletions (INSIDE LOCK)
	r.mu.Lock()
	for _, it := range itemsToRemove {
		delete(r.data, it.id)

		// Mark as 0 (null marker) in ring
		if it.idx < len(r.ring) && r.ring[it.idx] == it.id {
			r.ring[it.idx] = 0
		}
	}

	r.head = nextHead

	// Compaction
	if cycleCompleted {
		active := len(r.data)
		capacity := len(r.ring)

		// Trigger compaction when load factor < 25%
		if capacity > 256 && float64(active) < float64(capacity)*0.25 {
			r.compactAndRenew()
		}
	}
	r.mu.Unlock()
}

// compactAndRenew removes null markers from the ring buffer AND rebuilds the map.
// Go's delete() doesn't free hashmap bucket array; allocating a new map reclaims memory.
// Must be called with mu.Lock held.
func (r *Registry) compactAndRenew() {
	newRing := make([]uint64, 0, len(r.data))
	newData := make(map[uint64]weak.Pointer[Handle], len(r.data))

	for _, id := range r.ring {
		if id != 0 {
			if wp, ok := r.data[id]; ok {
				newRing = append(newRing, id)
				newData[id] = wp
			}
		}
	}

	r.ring = newRing
	r.data = newData
	r.head = 0
}
