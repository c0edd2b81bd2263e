//go:build windows

// Package winapi wraps the Win32 surface the sampling engine consumes:
// process handles and times, toolhelp snapshots, memory and disk status,
// performance counters (PDH), and graphics adapter enumeration (DXGI).
// Everything is exposed through the interfaces in internal/hostapi.
package winapi

import (
	"sync"

	"golang.org/x/sys/windows"
)

var (
	modpsapi = windows.NewLazySystemDLL("psapi.dll")
	modpdh   = windows.NewLazySystemDLL("pdh.dll")
	moddxgi  = windows.NewLazySystemDLL("dxgi.dll")

	procQueryWorkingSet      = modpsapi.NewProc("QueryWorkingSet")
	procGetProcessMemoryInfo = modpsapi.NewProc("GetProcessMemoryInfo")

	procPdhOpenQueryW                = modpdh.NewProc("PdhOpenQueryW")
	procPdhAddEnglishCounterW        = modpdh.NewProc("PdhAddEnglishCounterW")
	procPdhCollectQueryDataEx        = modpdh.NewProc("PdhCollectQueryDataEx")
	procPdhGetFormattedCounterArrayW = modpdh.NewProc("PdhGetFormattedCounterArrayW")
	procPdhRemoveCounter             = modpdh.NewProc("PdhRemoveCounter")
	procPdhCloseQuery                = modpdh.NewProc("PdhCloseQuery")

	procCreateDXGIFactory1 = moddxgi.NewProc("CreateDXGIFactory1")
)

// System implements hostapi.SystemAPI on top of Win32.
type System struct {
	mu        sync.Mutex
	prevCores []coreTimes
}

// NewSystem returns the production host surface.
func NewSystem() *System {
	return &System{}
}
