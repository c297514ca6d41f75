// Package system reports host identity and resources.
package system

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"aud_miner/log"
)

// SystemInformation identifies the controller the miner runs on.
type SystemInformation struct {
	Hostname      string
	OS            string
	Platform      string
	KernelVersion string
	KernelArch    string
	Uptime        time.Duration
}

var (
	infoOnce   sync.Once
	cachedInfo SystemInformation
	infoErr    error
)

// GetSystemInfo reads host identity once; later calls return the cached copy
// with a fresh uptime.
func GetSystemInfo() (SystemInformation, error) {
	infoOnce.Do(func() {
		hi, err := host.Info()
		if err != nil {
			infoErr = errors.Wrap(err, "read host info")
			return
		}
		cachedInfo = SystemInformation{
			Hostname:      hi.Hostname,
			OS:            hi.OS,
			Platform:      hi.Platform + " " + hi.PlatformVersion,
			KernelVersion: hi.KernelVersion,
			KernelArch:    hi.KernelArch,
		}
		log.Debugf("sysInfo: %+v", cachedInfo)
	})
	if infoErr != nil {
		return SystemInformation{}, infoErr
	}

	info := cachedInfo
	if up, err := host.Uptime(); err == nil {
		info.Uptime = time.Duration(up) * time.Second
	}
	return info, nil
}

// FreeMemory is the memory available to new allocations, in bytes. 0 when
// it cannot be read.
func FreeMemory() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Debugf("read memory: %v", err)
		return 0
	}
	return vm.Available
}
