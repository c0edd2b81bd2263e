//go:build windows

package winapi

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/yanrk/resource-monitor/internal/hostapi"
)

// IID_IDXGIFactory1 {770aae78-f26f-4dba-a829-253c83d1b387}
var iidIDXGIFactory1 = windows.GUID{
	Data1: 0x770aae78,
	Data2: 0xf26f,
	Data3: 0x4dba,
	Data4: [8]byte{0xa8, 0x29, 0x25, 0x3c, 0x83, 0xd1, 0xb3, 0x87},
}

const dxgiErrorNotFound = 0x887a0002

type dxgiFactory1 struct {
	vtbl *dxgiFactory1Vtbl
}

type dxgiFactory1Vtbl struct {
	QueryInterface          uintptr
	AddRef                  uintptr
	Release                 uintptr
	SetPrivateData          uintptr
	SetPrivateDataInterface uintptr
	GetPrivateData          uintptr
	GetParent               uintptr
	EnumAdapters            uintptr
	MakeWindowAssociation   uintptr
	GetWindowAssociation    uintptr
	CreateSwapChain         uintptr
	CreateSoftwareAdapter   uintptr
	EnumAdapters1           uintptr
	IsCurrent               uintptr
}

type dxgiAdapter1 struct {
	vtbl *dxgiAdapter1Vtbl
}

type dxgiAdapter1Vtbl struct {
	QueryInterface          uintptr
	AddRef                  uintptr
	Release                 uintptr
	SetPrivateData          uintptr
	SetPrivateDataInterface uintptr
	GetPrivateData          uintptr
	GetParent               uintptr
	EnumOutputs             uintptr
	GetDesc                 uintptr
	CheckInterfaceSupport   uintptr
	GetDesc1                uintptr
}

type dxgiAdapterDesc1 struct {
	Description           [128]uint16
	VendorID              uint32
	DeviceID              uint32
	SubSysID              uint32
	Revision              uint32
	DedicatedVideoMemory  uintptr
	DedicatedSystemMemory uintptr
	SharedSystemMemory    uintptr
	AdapterLuid           windows.LUID
	Flags                 uint32
}

// Adapters enumerates graphics adapters through DXGI. Filtering of
// software adapters is left to the caller.
func (s *System) Adapters() ([]hostapi.AdapterInfo, error) {
	var factory *dxgiFactory1
	hr, _, _ := procCreateDXGIFactory1.Call(
		uintptr(unsafe.Pointer(&iidIDXGIFactory1)),
		uintptr(unsafe.Pointer(&factory)),
	)
	if int32(hr) < 0 || factory == nil {
		return nil, fmt.Errorf("CreateDXGIFactory1: hresult 0x%08x", uint32(hr))
	}
	defer syscall.SyscallN(factory.vtbl.Release, uintptr(unsafe.Pointer(factory))) //nolint:errcheck

	var infos []hostapi.AdapterInfo
	for index := uint32(0); ; index++ {
		var adapter *dxgiAdapter1
		hr, _, _ := syscall.SyscallN(
			factory.vtbl.EnumAdapters1,
			uintptr(unsafe.Pointer(factory)),
			uintptr(index),
			uintptr(unsafe.Pointer(&adapter)),
		)
		if uint32(hr) == dxgiErrorNotFound {
			break
		}
		if int32(hr) < 0 || adapter == nil {
			break
		}

		var desc dxgiAdapterDesc1
		hr, _, _ = syscall.SyscallN(
			adapter.vtbl.GetDesc1,
			uintptr(unsafe.Pointer(adapter)),
			uintptr(unsafe.Pointer(&desc)),
		)
		syscall.SyscallN(adapter.vtbl.Release, uintptr(unsafe.Pointer(adapter))) //nolint:errcheck
		if int32(hr) < 0 {
			continue
		}

		infos = append(infos, hostapi.AdapterInfo{
			Description:          windows.UTF16ToString(desc.Description[:]),
			DedicatedVideoMemory: uint64(desc.DedicatedVideoMemory),
			VendorID:             desc.VendorID,
		})
	}
	return infos, nil
}
