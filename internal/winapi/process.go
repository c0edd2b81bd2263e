//go:build windows

package winapi

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/yanrk/resource-monitor/internal/hostapi"
)

// Process is an open process handle. The current-process sentinel is a
// pseudo-handle and must never be closed.
type Process struct {
	handle   windows.Handle
	sentinel bool
}

func (s *System) CurrentPID() uint32 {
	return windows.GetCurrentProcessId()
}

func (s *System) CurrentProcess() hostapi.ProcessHandle {
	return &Process{handle: windows.CurrentProcess(), sentinel: true}
}

func (s *System) OpenProcess(pid uint32) (hostapi.ProcessHandle, error) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, pid)
	if err != nil {
		return nil, fmt.Errorf("OpenProcess(%d): %w", pid, err)
	}
	return &Process{handle: handle}, nil
}

// Alive reports whether the process has not yet exited.
func (p *Process) Alive() bool {
	var code uint32
	if err := windows.GetExitCodeProcess(p.handle, &code); err != nil {
		return false
	}
	return code == uint32(windows.STILL_ACTIVE)
}

// BusyTime returns kernel+user time in 100-nanosecond ticks.
func (p *Process) BusyTime() (uint64, error) {
	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(p.handle, &creation, &exit, &kernel, &user); err != nil {
		return 0, fmt.Errorf("GetProcessTimes: %w", err)
	}
	return filetimeTo64(kernel) + filetimeTo64(user), nil
}

type workingSetInformation struct {
	NumberOfEntries uintptr
	// One block is enough: the entry count is filled in even when the
	// call reports ERROR_BAD_LENGTH for the truncated block array.
	WorkingSetInfo [1]uintptr
}

type processMemoryCounters struct {
	Cb                         uint32
	PageFaultCount             uint32
	PeakWorkingSetSize         uintptr
	WorkingSetSize             uintptr
	QuotaPeakPagedPoolUsage    uintptr
	QuotaPagedPoolUsage        uintptr
	QuotaPeakNonPagedPoolUsage uintptr
	QuotaNonPagedPoolUsage     uintptr
	PagefileUsage              uintptr
	PeakPagefileUsage          uintptr
}

// WorkingSetBytes returns the working-set size, preferring the page-count
// query and falling back to the memory-counters query.
func (p *Process) WorkingSetBytes() (uint64, error) {
	var info workingSetInformation
	ret, _, callErr := procQueryWorkingSet.Call(
		uintptr(p.handle),
		uintptr(unsafe.Pointer(&info)),
		unsafe.Sizeof(info),
	)
	if ret != 0 || errors.Is(callErr, windows.ERROR_BAD_LENGTH) {
		return uint64(info.NumberOfEntries) * uint64(os.Getpagesize()), nil
	}

	var counters processMemoryCounters
	counters.Cb = uint32(unsafe.Sizeof(counters))
	ret, _, callErr = procGetProcessMemoryInfo.Call(
		uintptr(p.handle),
		uintptr(unsafe.Pointer(&counters)),
		uintptr(counters.Cb),
	)
	if ret == 0 {
		return 0, fmt.Errorf("GetProcessMemoryInfo: %w", callErr)
	}
	return uint64(counters.WorkingSetSize), nil
}

func (p *Process) Close() error {
	if p.sentinel || p.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(p.handle)
	p.handle = 0
	return err
}

func filetimeTo64(ft windows.Filetime) uint64 {
	return uint64(ft.HighDateTime)<<32 | uint64(ft.LowDateTime)
}

// Processes enumerates all live processes from a single toolhelp
// snapshot, preserving the snapshot's iteration order.
func (s *System) Processes() ([]hostapi.ProcessInfo, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
			return nil, nil
		}
		return nil, fmt.Errorf("Process32First: %w", err)
	}

	var infos []hostapi.ProcessInfo
	for {
		infos = append(infos, hostapi.ProcessInfo{
			PID:       entry.ProcessID,
			ParentPID: entry.ParentProcessID,
			Name:      windows.UTF16ToString(entry.ExeFile[:]),
		})
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				break
			}
			return nil, fmt.Errorf("Process32Next: %w", err)
		}
	}
	return infos, nil
}

// KillProcessesByName terminates every process whose image name matches,
// case-insensitively, with the given exit code.
func (s *System) KillProcessesByName(image string, exitCode uint32) int {
	processes, err := s.Processes()
	if err != nil {
		return 0
	}
	killed := 0
	for _, proc := range processes {
		if !strings.EqualFold(proc.Name, image) {
			continue
		}
		handle, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, proc.PID)
		if err != nil {
			continue
		}
		if windows.TerminateProcess(handle, exitCode) == nil {
			killed++
		}
		windows.CloseHandle(handle)
	}
	return killed
}
