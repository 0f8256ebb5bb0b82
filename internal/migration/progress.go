package migration

// Phase этап работы менеджера миграции
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBackingUp
	PhaseConverting
	PhaseValidating
	PhaseCompleted
	PhaseFailed
	PhaseRollingBack
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBackingUp:
		return "backing_up"
	case PhaseConverting:
		return "converting"
	case PhaseValidating:
		return "validating"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseRollingBack:
		return "rolling_back"
	case PhaseRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// MarshalText для JSON-ответов админ-API
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Progress снимок хода текущего прогона
type Progress struct {
	Phase        Phase  `json:"phase"`
	RunID        string `json:"run_id,omitempty"`
	TotalChunks  int    `json:"total_chunks"`
	Processed    int    `json:"processed"`
	Converted    int    `json:"converted"`
	Failed       int    `json:"failed"`
	CurrentBatch int    `json:"current_batch"`
	TotalBatches int    `json:"total_batches"`
}

// Percent доля обработанных чанков
func (p Progress) Percent() float64 {
	if p.TotalChunks == 0 {
		return 0
	}
	return float64(p.Processed) * 100 / float64(p.TotalChunks)
}

func (m *Manager) setPhase(phase Phase) {
	m.progressMu.Lock()
	m.progress.Phase = phase
	m.progressMu.Unlock()
}

func (m *Manager) updateProgress(fn func(p *Progress)) {
	m.progressMu.Lock()
	fn(&m.progress)
	m.progressMu.Unlock()
}

// Progress возвращает ход текущего (или последнего) прогона
func (m *Manager) Progress() Progress {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	return m.progress
}
