package store

import "time"

// gcLoop runs the periodic sweep until the store is closed.
func (s *Store) gcLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepNow()
		}
	}
}

// SweepNow runs one garbage collection pass and returns the number of
// entries evicted. An entry is evicted when it has no subscribers and its
// retention window has elapsed since the last write. Entries with a fetch in
// flight are never evicted. Eviction never blocks readers for longer than a
// map delete; a key evicted and then re-requested simply re-enters a fresh
// fetch cycle.
func (s *Store) SweepNow() int {
	now := s.now()

	s.mu.Lock()
	var evicted []Entry
	for k, e := range s.entries {
		if s.subs[k] > 0 || e.status == StatusFetching {
			continue
		}
		if now.Sub(e.fetchedAt) < e.retainFor {
			continue
		}
		evicted = append(evicted, s.snapshotLocked(e))
		delete(s.entries, k)
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	if onEvict != nil {
		for _, snap := range evicted {
			onEvict(snap)
		}
	}
	return len(evicted)
}
