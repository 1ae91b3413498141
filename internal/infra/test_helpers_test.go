package infra

import (
	"os"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	byName      map[string][]int
	findErr     error
	runningPIDs map[int]bool
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		byName:      make(map[string][]int),
		runningPIDs: make(map[int]bool),
	}
}

func (m *mockProcessManager) FindByName(name string) ([]int, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byName[name], nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

// SetRunning starts or stops a fake process called name.
func (m *mockProcessManager) SetRunning(name string, pid int, running bool) {
	m.runningPIDs[pid] = running
	if !running {
		delete(m.byName, name)
		return
	}
	m.byName[name] = append(m.byName[name], pid)
}
