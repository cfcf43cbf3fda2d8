package ledger

import (
	"sort"
	"sync"
)

// keyLocks hands out one mutex per record name. Entries are reference counted
// and dropped once nobody holds or waits for them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire locks every name in sorted order and returns the matching release func.
func (k *keyLocks) acquire(names []string) func() {
	sorted := dedupSorted(names)

	held := make([]*keyLock, 0, len(sorted))
	for _, name := range sorted {
		k.mu.Lock()
		l, ok := k.locks[name]
		if !ok {
			l = &keyLock{}
			k.locks[name] = l
		}
		l.refs++
		k.mu.Unlock()

		l.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()

			k.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.locks, sorted[i])
			}
			k.mu.Unlock()
		}
	}
}

func dedupSorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)

	n := 0
	for i, name := range out {
		if i > 0 && name == out[n-1] {
			continue
		}
		out[n] = name
		n++
	}

	return out[:n]
}
