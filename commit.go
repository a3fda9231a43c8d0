package litho

// CommitStats summarizes what one commit reconciled.
type CommitStats struct {
	// AppliedUpdates is the total number of updates the generation consumed.
	AppliedUpdates int
	// CollectedContainers counts containers dropped because their key was
	// not needed by the generation.
	CollectedContainers int
	// CarriedKeys counts keys whose container survived into the committed map.
	CarriedKeys int
	// LeftoverUpdates counts updates still pending after the commit.
	LeftoverUpdates int
}

// Commit reconciles a finished generation's working store into this
// committed store: applied updates are drained from the pending FIFOs,
// containers of vanished keys are collected, the container map is replaced
// wholesale with the working store's view, and updates the generation did
// not get to are kept for the next one. The working store's internals are
// taken over and pool-released here; it is empty afterwards. The caller
// (the rebuild scheduler) must serialize Commit against the next
// generation's Seed.
func (s *StateStore) Commit(working *StateStore) CommitStats {
	// Take exclusive ownership of the working store's maps. Enqueue may
	// still race with commit, so the maps are detached under its lock; a
	// late enqueue lands in a fresh map and dies with the retired store.
	working.lock.Lock()
	applied := working.applied
	checkpoint := working.checkpoint
	wpending := working.pending
	wcontainers := working.containers
	needed := working.needed
	wtransitions := working.transitions
	working.applied = nil
	working.checkpoint = nil
	working.pending = nil
	working.containers = nil
	working.needed = nil
	working.transitions = nil
	working.lock.Unlock()

	s.lock.Lock()
	var stats CommitStats
	s.drainApplied(applied, checkpoint, &stats)
	collected := s.collectUnneeded(needed, &stats)
	s.replaceContainers(wcontainers, needed, &stats)
	s.mergeLeftover(wpending, applied, checkpoint)
	s.transitions = append(s.transitions, wtransitions...)
	if s.pending != nil && len(s.pending) == 0 {
		s.pools.pendingMaps.Release(s.pending)
		s.pending = nil
	}
	for _, list := range s.pending {
		stats.LeftoverUpdates += len(list)
	}
	releaser := s.releaser
	s.lock.Unlock()

	// retire the working store's internals
	for _, list := range wpending {
		s.pools.updateLists.Release(list)
	}
	if wpending != nil {
		s.pools.pendingMaps.Release(wpending)
	}
	if wcontainers != nil {
		s.pools.containerMaps.Release(wcontainers)
	}

	// the hook runs unlocked so it may call back into the store
	if releaser != nil {
		for _, sc := range collected {
			releaser(sc)
		}
	}

	s.log.Debug("state committed",
		"applied", stats.AppliedUpdates,
		"collected", stats.CollectedContainers,
		"carried", stats.CarriedKeys,
		"leftover", stats.LeftoverUpdates)
	return stats
}

// drainApplied removes the applied prefix of every drained key's FIFO. Only
// updates that existed at the generation's checkpoint are removed here:
// anything enqueued on this store after the checkpoint stays for the next
// generation, and anything applied past the checkpoint never lived in this
// store to begin with.
func (s *StateStore) drainApplied(applied, checkpoint map[string]int, stats *CommitStats) {
	for key, count := range applied {
		stats.AppliedUpdates += count
		if cp := checkpoint[key]; count > cp {
			count = cp
		}
		list, ok := s.pending[key]
		if !ok || count <= 0 {
			continue
		}
		if count >= len(list) {
			delete(s.pending, key)
			s.pools.updateLists.Release(list)
			continue
		}
		remaining := s.pools.updateLists.Acquire()
		remaining = append(remaining, list[count:]...)
		s.pending[key] = remaining
		s.pools.updateLists.Release(list)
	}
}

// collectUnneeded drops every container whose key the generation did not
// visit and returns them for the release hook. Such keys belonged to tree
// nodes that disappeared. A nil needed set means the build never
// materialized anything; that is a no-op generation, not a tree whose
// every node vanished, so nothing is collected.
func (s *StateStore) collectUnneeded(needed map[string]struct{}, stats *CommitStats) []StateContainer {
	if needed == nil {
		return nil
	}
	var collected []StateContainer
	for key, sc := range s.containers {
		if _, ok := needed[key]; ok {
			continue
		}
		delete(s.containers, key)
		stats.CollectedContainers++
		collected = append(collected, sc)
	}
	return collected
}

// replaceContainers overwrites the committed container map with the working
// store's view. Full overwrite, not a merge: the working store's state for
// every visited key is authoritative. Seeded-but-unvisited entries in the
// working map are skipped; collectUnneeded already accounted for them. On a
// no-op generation (nil needed set) the working map is the untouched seeded
// copy and is carried over whole, leaving the committed map unchanged.
func (s *StateStore) replaceContainers(wcontainers map[string]StateContainer, needed map[string]struct{}, stats *CommitStats) {
	if s.containers == nil && len(wcontainers) > 0 {
		s.containers = s.pools.containerMaps.Acquire()
	} else {
		clear(s.containers)
	}
	for key, sc := range wcontainers {
		if needed != nil {
			if _, ok := needed[key]; !ok {
				continue
			}
		}
		s.containers[key] = sc
		stats.CarriedKeys++
	}
}

// mergeLeftover carries over updates that were enqueued directly on the
// working store after its seed checkpoint and never applied, so the next
// generation's seed sees them. Per-key FIFO order is preserved.
func (s *StateStore) mergeLeftover(wpending map[string][]StateUpdate, applied, checkpoint map[string]int) {
	for key, list := range wpending {
		start := checkpoint[key]
		if a := applied[key]; a > start {
			start = a
		}
		if start >= len(list) {
			continue
		}
		if s.pending == nil {
			s.pending = s.pools.pendingMaps.Acquire()
		}
		dst, ok := s.pending[key]
		if !ok {
			dst = s.pools.updateLists.Acquire()
		}
		s.pending[key] = append(dst, list[start:]...)
	}
}
