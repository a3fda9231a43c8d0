package litho

import "github.com/Onionbaby/litho/utils"

const (
	initialUpdateListCapacity = 4
	initialMapCapacity        = 4
	defaultPoolCapacity       = 10
)

// Pools recycles the engine's internal containers: per-key update lists and
// the maps a store is built from. One Pools instance is shared by all stores
// of a tree and is safe for concurrent use. Pooling is transparent: it
// changes allocation pressure, never behavior.
type Pools struct {
	updateLists   *utils.Pool[[]StateUpdate]
	pendingMaps   *utils.Pool[map[string][]StateUpdate]
	containerMaps *utils.Pool[map[string]StateContainer]
}

func NewPools(capacity int) *Pools {
	if capacity <= 0 {
		capacity = defaultPoolCapacity
	}
	return &Pools{
		updateLists: utils.NewPool(capacity,
			func() []StateUpdate { return make([]StateUpdate, 0, initialUpdateListCapacity) },
			func(s []StateUpdate) []StateUpdate { return s[:0] },
		),
		pendingMaps: utils.NewPool(capacity,
			func() map[string][]StateUpdate { return make(map[string][]StateUpdate, initialMapCapacity) },
			func(m map[string][]StateUpdate) map[string][]StateUpdate { clear(m); return m },
		),
		containerMaps: utils.NewPool(capacity,
			func() map[string]StateContainer { return make(map[string]StateContainer, initialMapCapacity) },
			func(m map[string]StateContainer) map[string]StateContainer { clear(m); return m },
		),
	}
}
