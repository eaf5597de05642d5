package cable

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Driver is the capability contract every cable implementation satisfies.
// Only the primitive operations are mandatory; composite operations come
// from the generic layer unless the driver also implements Transferer.
//
// A Driver is used by exactly one Cable and is never called concurrently.
type Driver interface {
	// Init opens the transport and applies default output levels.
	Init() error
	// Done releases the transport. The driver may be initialised again.
	Done() error
	// SetFrequency selects the hardware clock rate closest to hz that does
	// not exceed it and returns the rate actually applied.
	SetFrequency(hz uint32) (uint32, error)
	// Clock emits n TCK pulses with TMS and TDI held at fixed levels.
	Clock(tms, tdi bool, n int) error
	// GetTDO returns the current TDO level.
	GetTDO() (bool, error)
	// SetSignal drives the lines in mask to the levels in val and returns
	// the previous levels of the masked lines.
	SetSignal(mask, val Signal) (Signal, error)
	// GetSignal reports the level of the requested lines.
	GetSignal(sig Signal) (Signal, error)
}

// Transferer is implemented by drivers with a native block shift. in[i] is
// the i-th bit driven onto TDI; when out is non-nil out[i] receives the TDO
// level presented for that bit. The return value is the number of bits not
// shifted.
type Transferer interface {
	Transfer(in, out []bool) (int, error)
}

// FlushStrategy selects how a cable drains its deferred queue.
type FlushStrategy uint8

const (
	// FlushEachCommand issues each queued command as it was recorded.
	FlushEachCommand FlushStrategy = iota
	// FlushCoalesced merges runs of shift-state clocks into transfers.
	FlushCoalesced
)

func (s FlushStrategy) String() string {
	switch s {
	case FlushEachCommand:
		return "one-by-one"
	case FlushCoalesced:
		return "using-transfer"
	}
	return fmt.Sprintf("FlushStrategy(%d)", uint8(s))
}

// FlushPolicy lets a driver pick its flush strategy. Drivers that do not
// implement it are flushed one command at a time.
type FlushPolicy interface {
	FlushStrategy() FlushStrategy
}

// Describer is implemented by drivers that can report adapter details.
type Describer interface {
	Info() Info
}

// Info describes capabilities reported by a cable driver.
type Info struct {
	Name         string
	Vendor       string
	Model        string
	SerialNumber string
	Firmware     string
	MinFrequency uint32 // Hertz
	MaxFrequency uint32 // Hertz
	SupportsSRST bool
	SupportsTRST bool
	Notes        string
}

// DeviceKind tells how a driver reaches its hardware.
type DeviceKind string

const (
	DeviceUSB   DeviceKind = "usb"
	DeviceGPIO  DeviceKind = "gpio"
	DeviceOther DeviceKind = "other"
)

// ConnectFunc parses params and allocates driver state. It must not touch
// hardware; that happens in Driver.Init.
type ConnectFunc func(Params) (Driver, error)

// DriverSpec registers a driver family.
type DriverSpec struct {
	Name        string
	Description string
	Kind        DeviceKind
	VendorID    uint16
	ProductID   uint16
	Connect     ConnectFunc
}

var (
	registryMu sync.RWMutex
	registry   = map[string]DriverSpec{}
)

// Register adds a driver family. It panics on duplicate names, which can
// only happen through a programming error in an init function.
func Register(spec DriverSpec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	key := strings.ToLower(spec.Name)
	if _, dup := registry[key]; dup {
		panic(fmt.Sprintf("cable: driver %q registered twice", spec.Name))
	}
	if spec.Connect == nil {
		panic(fmt.Sprintf("cable: driver %q has no Connect function", spec.Name))
	}
	registry[key] = spec
}

// Lookup finds a registered driver by name.
func Lookup(name string) (DriverSpec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	spec, ok := registry[strings.ToLower(name)]
	return spec, ok
}

// Drivers lists registered drivers sorted by name.
func Drivers() []DriverSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]DriverSpec, 0, len(registry))
	for _, spec := range registry {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
