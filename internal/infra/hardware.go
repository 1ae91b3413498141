package infra

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

// HardwareProfiler implements domain.HardwareProfiler with gopsutil.
type HardwareProfiler struct {
	logger *zap.Logger

	// Overridable for tests.
	hostInfo  func() (*host.InfoStat, error)
	cpuCounts func(logical bool) (int, error)
	cpuInfo   func() ([]cpu.InfoStat, error)
	memory    func() (*mem.VirtualMemoryStat, error)
}

// NewHardwareProfiler creates a profiler reading the local machine.
func NewHardwareProfiler(logger *zap.Logger) *HardwareProfiler {
	return &HardwareProfiler{
		logger:    logger,
		hostInfo:  host.Info,
		cpuCounts: cpu.Counts,
		cpuInfo:   cpu.Info,
		memory:    mem.VirtualMemory,
	}
}

// Profile collects the hardware data. Host information is required;
// CPU and memory details are best effort.
func (p *HardwareProfiler) Profile() (*domain.HardwareProfile, error) {
	hi, err := p.hostInfo()
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}

	profile := &domain.HardwareProfile{
		Hostname:    hi.Hostname,
		OS:          hi.OS,
		Platform:    hi.Platform,
		PlatformVer: hi.PlatformVersion,
		KernelArch:  hi.KernelArch,
	}
	if hi.VirtualizationRole == "guest" {
		profile.Virtualization = hi.VirtualizationSystem
	}

	if n, err := p.cpuCounts(true); err != nil {
		p.logger.Warn("failed to count CPUs", zap.Error(err))
	} else {
		profile.CPUs = n
	}

	if infos, err := p.cpuInfo(); err != nil {
		p.logger.Warn("failed to read CPU info", zap.Error(err))
	} else if len(infos) > 0 {
		profile.CPUModel = infos[0].ModelName
	}

	if vm, err := p.memory(); err != nil {
		p.logger.Warn("failed to read memory info", zap.Error(err))
	} else {
		profile.MemoryBytes = vm.Total
	}

	return profile, nil
}

// Ensure HardwareProfiler implements domain.HardwareProfiler.
var _ domain.HardwareProfiler = (*HardwareProfiler)(nil)
