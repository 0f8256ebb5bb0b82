package api

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// healthStatus тело ответа /health
type healthStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	HeapMB        float64 `json:"heap_mb"`
	RSSMB         float64 `json:"rss_mb,omitempty"`
	CPUPercent    float64 `json:"cpu_percent,omitempty"`

	// Заполняются, если подключён стриминг
	ResidentChunks *int     `json:"resident_chunks,omitempty"`
	MemoryPressure *float64 `json:"memory_pressure,omitempty"`
}

// processProbe снимает показатели процесса для /health.
// Хэндл gopsutil создаётся один раз: CPUPercent считается от предыдущего вызова.
type processProbe struct {
	started time.Time

	once sync.Once
	proc *process.Process
}

func newProcessProbe() *processProbe {
	return &processProbe{started: time.Now()}
}

func (p *processProbe) handle() *process.Process {
	p.once.Do(func() {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err == nil {
			p.proc = proc
		}
	})
	return p.proc
}

// snapshot собирает показатели; недоступные значения gopsutil пропускаются
func (p *processProbe) snapshot() healthStatus {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	h := healthStatus{
		Status:        "running",
		UptimeSeconds: int64(time.Since(p.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		HeapMB:        mb(mem.HeapAlloc),
	}

	if proc := p.handle(); proc != nil {
		if info, err := proc.MemoryInfo(); err == nil {
			h.RSSMB = mb(info.RSS)
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			h.CPUPercent = cpu
		}
	}
	return h
}

func mb(b uint64) float64 {
	return float64(b) / (1 << 20)
}
