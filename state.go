package litho

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Onionbaby/litho/utils"
)

// StateContainer holds the current state values of one tree node. Containers
// are opaque to the engine and owned by exactly one store at a time; when a
// generation carries a container forward, the previous holder must not touch
// it again.
type StateContainer any

// Transition is an opaque side effect emitted by an applied state update.
// Each generation's transitions are handed to the consumer once and never
// redelivered.
type Transition any

// StateUpdate mutates a container and optionally emits transitions. The
// returned container replaces the input as the key's current state. Updates
// are consumed exactly once, in enqueue order. An update may mutate the
// input in place or return a fresh container; builds that can be superseded
// and discarded must use the latter so the carried-forward container stays
// untouched.
type StateUpdate func(ctx context.Context, sc StateContainer) (StateContainer, []Transition)

// StateStore tracks the state of all keyed nodes of one tree generation:
// the container per key, the per-key FIFOs of pending updates, and the set
// of keys the in-flight build has visited. Two instances are live during a
// rebuild: the committed store holding the previous generation's result and
// a working store the build writes into. Producers may enqueue updates from
// any goroutine at any time; the build applies them on its own goroutine.
//
// A single mutex guards every map access. It is held only for individual
// O(1) steps, never across the tree build or a collaborator callback.
type StateStore struct {
	lock sync.Mutex

	// containers holds the current state of every key known to this store.
	containers map[string]StateContainer

	// pending holds updates queued for the next build, per key, FIFO.
	pending map[string][]StateUpdate

	// checkpoint remembers how many pending updates per key were seeded
	// from the previous generation. Updates past the checkpoint were
	// enqueued on this store after the generation started.
	checkpoint map[string]int

	// needed collects keys visited by the in-flight build. Containers of
	// keys absent from this set are garbage at commit.
	needed map[string]struct{}

	// applied counts updates applied per key during this generation.
	applied map[string]int

	transitions []Transition

	releaser func(StateContainer)
	pools    *Pools
	log      utils.Logger
}

func NewStateStore(pools *Pools, log utils.Logger) *StateStore {
	if pools == nil {
		pools = NewPools(0)
	}
	if log == nil {
		log = utils.NewDefaultLogger(slog.LevelInfo)
	}
	return &StateStore{pools: pools, log: log}
}

// SetReleaser installs a hook invoked once for every container this store
// garbage-collects at commit. Containers are opaque, so recycling them is
// the owner's business, not the engine's.
func (s *StateStore) SetReleaser(fn func(StateContainer)) {
	s.lock.Lock()
	s.releaser = fn
	s.lock.Unlock()
}

// Enqueue appends an update to the key's pending FIFO. Safe to call from
// any goroutine at any time, including while a generation is being built
// or committed; an update enqueued after the generation's checkpoint is
// deferred to the next generation, never lost.
func (s *StateStore) Enqueue(key string, update StateUpdate) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.pending == nil {
		s.pending = s.pools.pendingMaps.Acquire()
	}
	list, ok := s.pending[key]
	if !ok {
		list = s.pools.updateLists.Acquire()
	}
	s.pending[key] = append(list, update)
}

// Seed transfers the previous generation's state into this fresh working
// store: container references move over as-is, pending update lists are
// value-copied so the committed store's FIFOs stay untouched. The copied
// lengths become this generation's checkpoint. Called exactly once, before
// the build starts. No-op when from is nil (first generation of a tree).
func (s *StateStore) Seed(from *StateStore) {
	if from == nil {
		return
	}

	from.lock.Lock()
	var containers map[string]StateContainer
	if len(from.containers) > 0 {
		containers = s.pools.containerMaps.Acquire()
		for key, sc := range from.containers {
			containers[key] = sc
		}
	}
	var pending map[string][]StateUpdate
	var checkpoint map[string]int
	if len(from.pending) > 0 {
		pending = s.pools.pendingMaps.Acquire()
		checkpoint = make(map[string]int, len(from.pending))
		for key, list := range from.pending {
			cp := s.pools.updateLists.Acquire()
			pending[key] = append(cp, list...)
			checkpoint[key] = len(list)
		}
	}
	from.lock.Unlock()

	s.lock.Lock()
	s.containers = containers
	s.pending = pending
	s.checkpoint = checkpoint
	s.lock.Unlock()
}

// Materialize marks the key as needed by the in-flight generation and
// returns its current container, if any. A false result means no prior
// state exists and the collaborator must initialize fresh; the engine never
// fabricates a container. The key survives commit-time garbage collection
// either way.
func (s *StateStore) Materialize(key string) (StateContainer, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.needed == nil {
		s.needed = make(map[string]struct{}, initialMapCapacity)
	}
	s.needed[key] = struct{}{}
	sc, ok := s.containers[key]
	return sc, ok
}

// ApplyUpdatesFor applies the key's pending updates to the container in
// enqueue order and stores the result as the key's current state. The
// pending FIFO is snapshotted once, so updates enqueued concurrently with
// application are deferred to the next generation. Ownership of the input
// container passes to the store; the caller must use the returned one.
func (s *StateStore) ApplyUpdatesFor(ctx context.Context, key string, sc StateContainer) StateContainer {
	sc, _, _ = s.applyUpdates(ctx, key, sc)
	return sc
}

func (s *StateStore) applyUpdates(ctx context.Context, key string, sc StateContainer) (StateContainer, int, int) {
	s.lock.Lock()
	snapshot := s.pending[key]
	s.lock.Unlock()

	// Updates run unlocked: they are collaborator code and may be slow.
	// Concurrent appends land past the snapshot's length, never inside it.
	var emitted []Transition
	for _, update := range snapshot {
		var ts []Transition
		sc, ts = update(ctx, sc)
		emitted = append(emitted, ts...)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.containers == nil {
		s.containers = s.pools.containerMaps.Acquire()
	}
	s.containers[key] = sc
	if len(snapshot) > 0 {
		if s.applied == nil {
			s.applied = make(map[string]int, initialMapCapacity)
		}
		s.applied[key] = len(snapshot)
		s.transitions = append(s.transitions, emitted...)
	}
	return sc, len(snapshot), len(emitted)
}

func (s *StateStore) IsEmpty() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.containers) == 0
}

// Transitions hands off every transition emitted by updates applied in this
// store, in per-key-then-per-update order, and clears the buffer. Each
// generation's transitions are consumed exactly once; a second call returns
// nil until new updates emit more.
func (s *StateStore) Transitions() []Transition {
	s.lock.Lock()
	defer s.lock.Unlock()
	ts := s.transitions
	s.transitions = nil
	return ts
}

// Release returns the store's internal containers to the pool. The store
// must not be used afterwards. State containers themselves are not touched:
// whoever owns them now (a committed store, after Commit copied the
// references) keeps them.
func (s *StateStore) Release() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.pending != nil {
		for key, list := range s.pending {
			delete(s.pending, key)
			s.pools.updateLists.Release(list)
		}
		s.pools.pendingMaps.Release(s.pending)
		s.pending = nil
	}
	if s.containers != nil {
		s.pools.containerMaps.Release(s.containers)
		s.containers = nil
	}
	s.checkpoint = nil
	s.needed = nil
	s.applied = nil
	s.transitions = nil
}

// sizes reports the live map sizes for metrics collection.
func (s *StateStore) sizes() (containers, pendingKeys, pendingUpdates int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	containers = len(s.containers)
	pendingKeys = len(s.pending)
	for _, list := range s.pending {
		pendingUpdates += len(list)
	}
	return
}
