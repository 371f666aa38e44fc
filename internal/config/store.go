package config

import "sync/atomic"

// StrategyStore hands out consistent StrategyConfig snapshots. The
// dashboard replaces the whole record atomically; readers always see
// either the old or the new record, never a mix. Open positions do not
// read the store at all, they carry their own locked copy.
type StrategyStore struct {
	p atomic.Pointer[StrategyConfig]
}

func NewStrategyStore(s StrategyConfig) *StrategyStore {
	st := &StrategyStore{}
	st.p.Store(&s)
	return st
}

// Snapshot returns a copy of the current strategy record.
func (st *StrategyStore) Snapshot() StrategyConfig {
	return *st.p.Load()
}

// Swap installs a new strategy record. It applies only to entries
// opened after the swap.
func (st *StrategyStore) Swap(s StrategyConfig) {
	st.p.Store(&s)
}
