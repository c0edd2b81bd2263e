//go:build windows

package winapi

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

func (s *System) CPUCount() (uint64, error) {
	return uint64(runtime.NumCPU()), nil
}

// MemoryStatus returns total and available physical memory.
func (s *System) MemoryStatus() (total, avail uint64, err error) {
	var status windows.MemoryStatusEx
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return 0, 0, fmt.Errorf("GlobalMemoryStatusEx: %w", err)
	}
	return status.TotalPhys, status.AvailPhys, nil
}

// DiskStatus sums total and free bytes over all fixed drives.
func (s *System) DiskStatus() (total, free uint64, err error) {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return 0, 0, fmt.Errorf("GetLogicalDrives: %w", err)
	}

	found := false
	for letter := 'A'; letter <= 'Z'; letter++ {
		if mask&(1<<uint(letter-'A')) == 0 {
			continue
		}
		root, err := windows.UTF16PtrFromString(string(letter) + `:\`)
		if err != nil {
			continue
		}
		if windows.GetDriveType(root) != windows.DRIVE_FIXED {
			continue
		}
		var availToCaller, driveTotal, driveFree uint64
		if err := windows.GetDiskFreeSpaceEx(root, &availToCaller, &driveTotal, &driveFree); err != nil {
			continue
		}
		total += driveTotal
		free += driveFree
		found = true
	}
	if !found {
		return 0, 0, fmt.Errorf("no readable fixed drives")
	}
	return total, free, nil
}

// NowAsFileTime returns the wallclock as a 64-bit UTC filetime composed
// from the two 32-bit halves.
func (s *System) NowAsFileTime() uint64 {
	var ft windows.Filetime
	windows.GetSystemTimeAsFileTime(&ft)
	return filetimeTo64(ft)
}

const systemProcessorPerformanceInformationClass = 8

type processorPerformanceInformation struct {
	IdleTime       int64
	KernelTime     int64
	UserTime       int64
	DpcTime        int64
	InterruptTime  int64
	InterruptCount uint32
	_              uint32
}

type coreTimes struct {
	idle int64
	// total is kernel+user; kernel time includes idle time.
	total int64
}

// PerCoreUsage returns per-core busy percentages over the interval since
// the previous call. The first call only primes the baseline and returns
// no data.
func (s *System) PerCoreUsage() ([]float64, error) {
	cores, err := readProcessorTimes()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.prevCores
	s.prevCores = cores

	if len(prev) != len(cores) {
		return nil, nil
	}

	usage := make([]float64, len(cores))
	for i := range cores {
		totalDelta := cores[i].total - prev[i].total
		if totalDelta <= 0 {
			continue
		}
		busy := totalDelta - (cores[i].idle - prev[i].idle)
		if busy < 0 {
			busy = 0
		}
		usage[i] = 100 * float64(busy) / float64(totalDelta)
	}
	return usage, nil
}

func readProcessorTimes() ([]coreTimes, error) {
	count := runtime.NumCPU()
	buffer := make([]processorPerformanceInformation, count)
	size := uint32(count) * uint32(unsafe.Sizeof(buffer[0]))

	var returned uint32
	err := windows.NtQuerySystemInformation(
		systemProcessorPerformanceInformationClass,
		unsafe.Pointer(&buffer[0]),
		size,
		&returned,
	)
	if err != nil {
		return nil, fmt.Errorf("NtQuerySystemInformation: %w", err)
	}

	n := int(returned) / int(unsafe.Sizeof(buffer[0]))
	if n > count {
		n = count
	}
	if n == 0 {
		return nil, fmt.Errorf("no processor times returned")
	}

	cores := make([]coreTimes, 0, n)
	for i := 0; i < n; i++ {
		cores = append(cores, coreTimes{
			idle:  buffer[i].IdleTime,
			total: buffer[i].KernelTime + buffer[i].UserTime,
		})
	}
	return cores, nil
}
