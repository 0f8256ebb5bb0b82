package streaming

// Stats снимок состояния менеджера стриминга
type Stats struct {
	Slots        int     `json:"slots"`
	Ready        int     `json:"ready"`
	InFlight     int     `json:"in_flight"`
	Queued       int     `json:"queued"`
	PreloadSlots int     `json:"preload_slots"`
	MemoryBytes  int64   `json:"memory_bytes"`
	MemoryLimit  int64   `json:"memory_limit"`
	Pressure     float64 `json:"memory_pressure"`

	Requests        uint64 `json:"requests"`
	CacheHits       uint64 `json:"cache_hits"`
	LoadsLegacy     uint64 `json:"loads_legacy"`
	LoadsEnhanced   uint64 `json:"loads_enhanced"`
	LoadsGenerated  uint64 `json:"loads_generated"`
	FailedLoads     uint64 `json:"failed_loads"`
	DiscardedLoads  uint64 `json:"discarded_loads"`
	PredictiveLoads uint64 `json:"predictive_loads"`
	Evictions       uint64 `json:"evictions"`
	Saves           uint64 `json:"saves"`
	SaveFailures    uint64 `json:"save_failures"`
}

// Stats возвращает текущую статистику
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{
		Slots:        len(m.slots),
		InFlight:     m.inFlight,
		Queued:       len(m.playerQueue) + len(m.preloadQueue),
		PreloadSlots: m.preloadCount,
		MemoryBytes:  m.memBytes,
		MemoryLimit:  m.cfg.MaxMemoryBytes,
	}
	for _, s := range m.slots {
		if s.state == stateReady {
			st.Ready++
		}
	}
	m.mu.Unlock()

	st.Pressure = m.Pressure()
	st.Requests = m.counters.requests.Load()
	st.CacheHits = m.counters.cacheHits.Load()
	st.LoadsLegacy = m.counters.loadsLegacy.Load()
	st.LoadsEnhanced = m.counters.loadsEnhanced.Load()
	st.LoadsGenerated = m.counters.loadsGenerated.Load()
	st.FailedLoads = m.counters.failedLoads.Load()
	st.DiscardedLoads = m.counters.discardedLoads.Load()
	st.PredictiveLoads = m.counters.predictiveLoads.Load()
	st.Evictions = m.counters.evictions.Load()
	st.Saves = m.counters.saves.Load()
	st.SaveFailures = m.counters.saveFailures.Load()
	return st
}
