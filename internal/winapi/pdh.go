//go:build windows

package winapi

import (
	"fmt"
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/yanrk/resource-monitor/internal/hostapi"
)

const (
	pdhFmtDouble   = 0x00000200
	pdhFmtLarge    = 0x00000400
	pdhFmtNoCap100 = 0x00008000

	pdhMoreData = 0x800007d2
)

type pdhFmtCounterValue struct {
	CStatus uint32
	_       uint32
	// Value is the 8-byte format union; reinterpreted per requested
	// format.
	Value uint64
}

type pdhFmtCounterValueItem struct {
	Name  *uint16
	Value pdhFmtCounterValue
}

// CounterQuery implements hostapi.CounterQuery over a PDH query whose
// periodic collection signals a Windows event.
type CounterQuery struct {
	handle uintptr
	event  windows.Handle
}

// NewCounterQuery opens a PDH query and its collection event.
func NewCounterQuery() (*CounterQuery, error) {
	var handle uintptr
	status, _, _ := procPdhOpenQueryW.Call(0, 0, uintptr(unsafe.Pointer(&handle)))
	if uint32(status) != 0 || handle == 0 {
		return nil, fmt.Errorf("PdhOpenQuery: status 0x%08x", uint32(status))
	}

	event, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		procPdhCloseQuery.Call(handle) //nolint:errcheck
		return nil, fmt.Errorf("create collection event: %w", err)
	}
	return &CounterQuery{handle: handle, event: event}, nil
}

// AddCounter registers a counter by its English path.
func (q *CounterQuery) AddCounter(path string) (hostapi.Counter, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	var counter uintptr
	status, _, _ := procPdhAddEnglishCounterW.Call(
		q.handle,
		uintptr(unsafe.Pointer(pathPtr)),
		0,
		uintptr(unsafe.Pointer(&counter)),
	)
	if uint32(status) != 0 || counter == 0 {
		return nil, fmt.Errorf("add counter %q: status 0x%08x", path, uint32(status))
	}
	return &Counter{handle: counter}, nil
}

// Start arms periodic collection; each completed pass signals the event.
func (q *CounterQuery) Start(interval time.Duration) error {
	seconds := interval / time.Second
	if seconds < 1 {
		seconds = 1
	}
	status, _, _ := procPdhCollectQueryDataEx.Call(q.handle, uintptr(seconds), uintptr(q.event))
	if uint32(status) != 0 {
		return fmt.Errorf("PdhCollectQueryDataEx: status 0x%08x", uint32(status))
	}
	return nil
}

// Wait blocks until the next collection completes or Wake is called.
func (q *CounterQuery) Wait() bool {
	event, err := windows.WaitForSingleObject(q.event, windows.INFINITE)
	return err == nil && event == windows.WAIT_OBJECT_0
}

// Wake unblocks a pending Wait.
func (q *CounterQuery) Wake() {
	windows.SetEvent(q.event) //nolint:errcheck
}

func (q *CounterQuery) Close() {
	procPdhCloseQuery.Call(q.handle) //nolint:errcheck
	windows.CloseHandle(q.event)     //nolint:errcheck
}

// Counter is one registered performance counter.
type Counter struct {
	handle uintptr
}

func (c *Counter) DoubleItems() ([]hostapi.CounterItem, bool) {
	return c.items(pdhFmtDouble | pdhFmtNoCap100)
}

func (c *Counter) LargeItems() ([]hostapi.CounterItem, bool) {
	return c.items(pdhFmtLarge)
}

func (c *Counter) Remove() {
	procPdhRemoveCounter.Call(c.handle) //nolint:errcheck
}

// items performs the two-call size-then-read dance and returns empty on
// any status other than success.
func (c *Counter) items(format uint32) ([]hostapi.CounterItem, bool) {
	var bufferSize, itemCount uint32
	status, _, _ := procPdhGetFormattedCounterArrayW.Call(
		c.handle,
		uintptr(format),
		uintptr(unsafe.Pointer(&bufferSize)),
		uintptr(unsafe.Pointer(&itemCount)),
		0,
	)
	if uint32(status) != pdhMoreData || bufferSize == 0 {
		return nil, false
	}

	buffer := make([]byte, bufferSize)
	status, _, _ = procPdhGetFormattedCounterArrayW.Call(
		c.handle,
		uintptr(format),
		uintptr(unsafe.Pointer(&bufferSize)),
		uintptr(unsafe.Pointer(&itemCount)),
		uintptr(unsafe.Pointer(&buffer[0])),
	)
	if uint32(status) != 0 || itemCount == 0 {
		return nil, false
	}

	raw := unsafe.Slice((*pdhFmtCounterValueItem)(unsafe.Pointer(&buffer[0])), itemCount)
	items := make([]hostapi.CounterItem, 0, itemCount)
	for i := range raw {
		item := hostapi.CounterItem{Instance: windows.UTF16PtrToString(raw[i].Name)}
		if format&pdhFmtLarge != 0 {
			item.Large = int64(raw[i].Value.Value)
		} else {
			item.Value = math.Float64frombits(raw[i].Value.Value)
		}
		items = append(items, item)
	}
	return items, true
}
