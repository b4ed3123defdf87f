package snapshot

import "sort"

// Store is an ordered collection of snapshots keyed by call or frame index.
// Retention is up to the caller; nothing is evicted. It is not safe for
// concurrent use.
type Store struct {
	keys  []uint64
	snaps map[uint64]*Snapshot
}

func NewStore() *Store {
	return &Store{snaps: make(map[uint64]*Snapshot)}
}

// Put stores s under key, replacing any previous entry.
func (st *Store) Put(key uint64, s *Snapshot) {
	if _, ok := st.snaps[key]; !ok {
		i := sort.Search(len(st.keys), func(i int) bool { return st.keys[i] >= key })
		st.keys = append(st.keys, 0)
		copy(st.keys[i+1:], st.keys[i:])
		st.keys[i] = key
	}
	st.snaps[key] = s
}

func (st *Store) Get(key uint64) (*Snapshot, bool) {
	s, ok := st.snaps[key]
	return s, ok
}

// Remove deletes key and reports whether it was present.
func (st *Store) Remove(key uint64) bool {
	if _, ok := st.snaps[key]; !ok {
		return false
	}
	delete(st.snaps, key)
	i := sort.Search(len(st.keys), func(i int) bool { return st.keys[i] >= key })
	st.keys = append(st.keys[:i], st.keys[i+1:]...)
	return true
}

// FindAtOrBefore returns the snapshot with the greatest key <= index.
func (st *Store) FindAtOrBefore(index uint64) (uint64, *Snapshot, bool) {
	i := sort.Search(len(st.keys), func(i int) bool { return st.keys[i] > index })
	if i == 0 {
		return 0, nil, false
	}
	key := st.keys[i-1]
	return key, st.snaps[key], true
}

// Keys returns the keys in ascending order.
func (st *Store) Keys() []uint64 {
	return append([]uint64(nil), st.keys...)
}

func (st *Store) Len() int {
	return len(st.keys)
}
