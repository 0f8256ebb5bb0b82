package streaming

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMemorySampler замеряет RSS текущего процесса
type ProcessMemorySampler struct {
	proc *process.Process
}

// NewProcessMemorySampler создаёт замер для текущего процесса
func NewProcessMemorySampler() (*ProcessMemorySampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("process handle: %w", err)
	}
	return &ProcessMemorySampler{proc: proc}, nil
}

func (s *ProcessMemorySampler) Sample() (uint64, error) {
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
