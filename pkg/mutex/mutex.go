package mutex

import "sync"

// KeyedMutex serializes critical sections per string key. Entries are
// reference counted and removed once the last holder unlocks, so the map
// does not grow with the number of distinct keys ever seen.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	if km.entries == nil {
		km.entries = make(map[string]*entry)
	}
	e, ok := km.entries[key]
	if !ok {
		e = &entry{}
		km.entries[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.mu.Lock()
}

func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	e, ok := km.entries[key]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(km.entries, key)
		}
	}
	km.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}
