// Package anlogic drives the Anlogic USB JTAG cable.
//
// The cable has no command set. Every exchange writes 1024 pin states
// packed two per byte and reads back the TDO level seen at each state.
package anlogic

import (
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/jtagcable/internal/bitpack"
	"github.com/OpenTraceLab/jtagcable/internal/usbconn"
	"github.com/OpenTraceLab/jtagcable/pkg/cable"
)

const (
	VendorID  = 0x0547
	ProductID = 0x1002

	endpointWrite = 0x06
	endpointRead  = 0x82
	endpointMode  = 0x08

	modeJTAG = 1

	maxSteps = 1024
	rawSize  = maxSteps / 2
)

// Pin bits of one step.
const (
	pinTMS  = 1 << 0
	pinTDI  = 1 << 1
	pinTCK  = 1 << 2
	outMask = pinTMS | pinTDI | pinTCK
)

type speed struct {
	hz   uint32
	code byte
}

// speeds is sorted fastest first.
var speeds = []speed{
	{6_000_000, 0x00},
	{3_000_000, 0x04},
	{2_000_000, 0x08},
	{1_000_000, 0x14},
	{600_000, 0x24},
	{400_000, 0x38},
	{200_000, 0x70},
	{100_000, 0xE8},
	{90_000, 0xFF},
}

func rates() []uint32 {
	out := make([]uint32, len(speeds))
	for i, s := range speeds {
		out[i] = s.hz
	}
	return out
}

const writable = cable.SignalTCK | cable.SignalTDI | cable.SignalTMS

func init() {
	cable.Register(cable.DriverSpec{
		Name:        "Anlogic",
		Description: "Anlogic JTAG cable",
		Kind:        cable.DeviceUSB,
		VendorID:    VendorID,
		ProductID:   ProductID,
		Connect:     Connect,
	})
}

// Driver is an Anlogic cable. lastStatus and lastTDO describe the final
// step of the last confirmed exchange.
type Driver struct {
	cfg        usbconn.Config
	open       func(usbconn.Config) (usbconn.Transport, error)
	t          usbconn.Transport
	lastStatus byte
	lastTDO    bool
	frequency  uint32
	log        *slog.Logger
}

// Connect parses the usb params (vid, pid, serial, interface).
func Connect(p cable.Params) (cable.Driver, error) {
	d, err := newDriver(p)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newDriver(p cable.Params) (*Driver, error) {
	cfg, err := usbconn.ConfigFromParams(usbconn.Config{VendorID: VendorID, ProductID: ProductID}, p)
	if err != nil {
		return nil, err
	}
	return &Driver{
		cfg: cfg,
		open: func(c usbconn.Config) (usbconn.Transport, error) {
			return usbconn.Open(c)
		},
		log: slog.Default().With("driver", "anlogic"),
	}, nil
}

// Init opens the device at the slowest speed with every output low.
func (d *Driver) Init() error {
	t, err := d.open(d.cfg)
	if err != nil {
		return err
	}
	d.t = t
	d.lastStatus = 0
	d.lastTDO = false
	if _, err := d.SetFrequency(speeds[len(speeds)-1].hz); err != nil {
		d.closeTransport()
		return err
	}
	if err := d.exchange([]byte{0}, nil); err != nil {
		d.closeTransport()
		return err
	}
	return nil
}

// Done closes the device.
func (d *Driver) Done() error {
	return d.closeTransport()
}

func (d *Driver) closeTransport() error {
	if d.t == nil {
		return nil
	}
	err := d.t.Close()
	d.t = nil
	return err
}

// SetFrequency selects the fastest speed step not above hz.
func (d *Driver) SetFrequency(hz uint32) (uint32, error) {
	s := speeds[cable.RoundDown(rates(), hz)]
	if d.t == nil {
		return 0, cable.Errorf(cable.ProtocolStateError, "set frequency", "device not open")
	}
	if _, err := d.t.Write(endpointMode, []byte{modeJTAG, s.code}); err != nil {
		return 0, err
	}
	d.frequency = s.hz
	return s.hz, nil
}

// Clock expands n pulses into 2n+1 steps with TCK high on odd steps.
func (d *Driver) Clock(tms, tdi bool, n int) error {
	if n <= 0 {
		return nil
	}
	var base byte
	if tms {
		base |= pinTMS
	}
	if tdi {
		base |= pinTDI
	}
	steps := make([]byte, 2*n+1)
	for i := range steps {
		steps[i] = base
		if i%2 == 1 {
			steps[i] |= pinTCK
		}
	}
	_, err := d.run(steps, nil)
	return err
}

// GetTDO returns the level read at the end of the last exchange.
func (d *Driver) GetTDO() (bool, error) {
	return d.lastTDO, nil
}

// Transfer expands each bit into three steps (TCK low, high, low). out[i]
// is the TDO level read at the first step of bit i. On failure out holds
// the bits of every confirmed exchange.
func (d *Driver) Transfer(in, out []bool) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}
	steps := make([]byte, 3*len(in))
	for i := range steps {
		if in[i/3] {
			steps[i] |= pinTDI
		}
		if i%3 == 1 {
			steps[i] |= pinTCK
		}
	}
	var res []byte
	if out != nil {
		res = make([]byte, len(steps))
	}
	done, err := d.run(steps, res)
	// A bit is shifted once its TCK-high step has been confirmed.
	completed := min((done+1)/3, len(in))
	if out != nil {
		for i := 0; i < completed; i++ {
			out[i] = res[3*i]&1 != 0
		}
	}
	if err != nil {
		return len(in) - completed, err
	}
	return 0, nil
}

// run sends steps in exchanges of at most 1024 and returns how many steps
// were confirmed.
func (d *Driver) run(steps, res []byte) (int, error) {
	exchanges := 0
	for done := 0; done < len(steps); {
		k := min(len(steps)-done, maxSteps)
		var chunkRes []byte
		if res != nil {
			chunkRes = res[done : done+k]
		}
		if err := d.exchange(steps[done:done+k], chunkRes); err != nil {
			return done, err
		}
		done += k
		exchanges++
	}
	d.log.Debug("steps exchanged", "steps", len(steps), "exchanges", exchanges)
	return len(steps), nil
}

// exchange writes one packed buffer and reads the echoed TDO levels. The
// shadow state changes only once both transfers succeed.
func (d *Driver) exchange(steps, res []byte) error {
	if d.t == nil {
		return cable.Errorf(cable.ProtocolStateError, "exchange", "device not open")
	}
	masked := make([]byte, len(steps))
	for i, s := range steps {
		masked[i] = s & outMask
	}
	raw := bitpack.PackNibbles(masked, rawSize)
	if _, err := d.t.Write(endpointWrite, raw); err != nil {
		return err
	}
	in := make([]byte, rawSize)
	n, err := d.t.Read(endpointRead, in)
	if err != nil {
		return err
	}
	if n < rawSize {
		return cable.Errorf(cable.TransportIOFailure, "exchange", "short read: %d of %d bytes", n, rawSize)
	}
	for i := range res {
		res[i] = bitpack.Nibble(in, i) & 1
	}
	d.lastStatus = raw[rawSize-1] >> 4
	d.lastTDO = (in[rawSize-1]>>4)&1 != 0
	return nil
}

// SetSignal sends one step with the masked output lines changed.
func (d *Driver) SetSignal(mask, val cable.Signal) (cable.Signal, error) {
	prev := d.signals() & mask & writable
	status := d.lastStatus
	for _, p := range []struct {
		sig cable.Signal
		pin byte
	}{
		{cable.SignalTCK, pinTCK},
		{cable.SignalTMS, pinTMS},
		{cable.SignalTDI, pinTDI},
	} {
		if mask&p.sig == 0 {
			continue
		}
		if val&p.sig != 0 {
			status |= p.pin
		} else {
			status &^= p.pin
		}
	}
	if err := d.exchange([]byte{status}, nil); err != nil {
		return 0, err
	}
	return prev, nil
}

// GetSignal answers from the last exchanged state.
func (d *Driver) GetSignal(sig cable.Signal) (cable.Signal, error) {
	return d.signals() & sig, nil
}

func (d *Driver) signals() cable.Signal {
	var s cable.Signal
	if d.lastStatus&pinTCK != 0 {
		s |= cable.SignalTCK
	}
	if d.lastStatus&pinTMS != 0 {
		s |= cable.SignalTMS
	}
	if d.lastStatus&pinTDI != 0 {
		s |= cable.SignalTDI
	}
	if d.lastTDO {
		s |= cable.SignalTDO
	}
	return s
}

// FlushStrategy coalesces shift-state clocks into step buffers.
func (d *Driver) FlushStrategy() cable.FlushStrategy { return cable.FlushCoalesced }

// Info describes the adapter.
func (d *Driver) Info() cable.Info {
	return cable.Info{
		Name:         "Anlogic",
		Vendor:       "Anlogic",
		Model:        fmt.Sprintf("%04x:%04x", d.cfg.VendorID, d.cfg.ProductID),
		SerialNumber: d.cfg.Serial,
		MinFrequency: speeds[len(speeds)-1].hz,
		MaxFrequency: speeds[0].hz,
		Notes:        "no TRST or SRST lines",
	}
}
