// Package infra implements infrastructure concerns (sources store, process
// inspection, hardware data, interactive agent, registration client).
package infra

import (
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs of processes whose executable name equals name
// (case-insensitive). A trailing "*" matches by prefix.
func (pm *ProcessManagerImpl) FindByName(name string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	prefix, isPrefix := strings.CutSuffix(strings.ToLower(name), "*")

	var found []int
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil {
			continue // exited
		}
		pname = strings.ToLower(pname)
		if pname == prefix || (isPrefix && strings.HasPrefix(pname, prefix)) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only probes for existence.
	return proc.Signal(syscall.Signal(0)) == nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
