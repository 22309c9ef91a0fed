package matching

import (
	"sync"
)

// indexes are the four inverted maps from normalized attribute to identity
// id set. Guarded by a single RWMutex — reads are common, writes rare.
type indexes struct {
	mu        sync.RWMutex
	byName    map[string]map[string]struct{}
	byPhone   map[string]map[string]struct{}
	byEmail   map[string]map[string]struct{}
	byBizID   map[string]map[string]struct{}
}

func newIndexes() *indexes {
	return &indexes{
		byName:  make(map[string]map[string]struct{}),
		byPhone: make(map[string]map[string]struct{}),
		byEmail: make(map[string]map[string]struct{}),
		byBizID: make(map[string]map[string]struct{}),
	}
}

func addTo(m map[string]map[string]struct{}, key, id string) {
	if key == "" {
		return
	}
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

// index registers every normalized attribute of an identity.
func (ix *indexes) index(identity *Identity) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, n := range identity.Names {
		addTo(ix.byName, n, identity.UniversalID)
	}
	for _, p := range identity.Phones {
		addTo(ix.byPhone, p, identity.UniversalID)
	}
	for _, e := range identity.Emails {
		addTo(ix.byEmail, e, identity.UniversalID)
	}
	for _, v := range identity.BusinessIDs {
		addTo(ix.byBizID, v, identity.UniversalID)
	}
}

// candidates union-searches all four maps for the probe's attributes and
// returns the candidate identity id set.
func (ix *indexes) candidates(probe *Identity) map[string]struct{} {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make(map[string]struct{})
	collect := func(m map[string]map[string]struct{}, key string) {
		if key == "" {
			return
		}
		for id := range m[key] {
			out[id] = struct{}{}
		}
	}
	for _, n := range probe.Names {
		collect(ix.byName, n)
		// Names also match on shared leading word so "abc manufacturing"
		// finds "abc manufacturing ltd" entries indexed under the full form.
		for key := range ix.byName {
			if key != n && sharesWord(key, n) {
				for id := range ix.byName[key] {
					out[id] = struct{}{}
				}
			}
		}
	}
	for _, p := range probe.Phones {
		collect(ix.byPhone, p)
	}
	for _, e := range probe.Emails {
		collect(ix.byEmail, e)
	}
	for _, v := range probe.BusinessIDs {
		collect(ix.byBizID, v)
	}
	return out
}

// sharesWord reports whether two normalized names share any word.
func sharesWord(a, b string) bool {
	return wordJaccard(a, b) > 0
}
