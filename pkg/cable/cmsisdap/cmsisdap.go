// Package cmsisdap drives CMSIS-DAP v2 probes in JTAG mode over USB bulk
// endpoints.
package cmsisdap

import (
	"log/slog"

	"github.com/OpenTraceLab/jtagcable/internal/usbconn"
	"github.com/OpenTraceLab/jtagcable/pkg/cable"
)

const (
	// Raspberry Pi debugprobe
	VendorID  = 0x2E8A
	ProductID = 0x000C

	defaultEndpointOut = 0x01
	defaultEndpointIn  = 0x81
	defaultPacketSize  = 64
	defaultFrequency   = 1_000_000

	minFrequency = 1_000
	maxFrequency = 10_000_000
)

const writable = cable.SignalTCK | cable.SignalTMS | cable.SignalTDI | cable.SignalTRST | cable.SignalRESET

func init() {
	cable.Register(cable.DriverSpec{
		Name:        "CMSIS-DAP",
		Description: "CMSIS-DAP v2 probe in JTAG mode",
		Kind:        cable.DeviceUSB,
		VendorID:    VendorID,
		ProductID:   ProductID,
		Connect:     Connect,
	})
}

// Driver is a CMSIS-DAP probe.
type Driver struct {
	cfg        usbconn.Config
	open       func(usbconn.Config) (usbconn.Transport, error)
	t          usbconn.Transport
	epOut      uint8
	epIn       uint8
	packetSize int
	shadow     cable.Shadow
	info       cable.Info
	connected  bool
	log        *slog.Logger
}

// Connect parses the usb params plus ep_out, ep_in and packet_size.
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
	epOut, err := p.Uint("ep_out", defaultEndpointOut)
	if err != nil {
		return nil, err
	}
	epIn, err := p.Uint("ep_in", defaultEndpointIn)
	if err != nil {
		return nil, err
	}
	size, err := p.Uint("packet_size", defaultPacketSize)
	if err != nil {
		return nil, err
	}
	if epOut > 0x0F || epIn < 0x81 || epIn > 0x8F {
		return nil, cable.Errorf(cable.ConfigurationError, "connect", "bad endpoints out=%#x in=%#x", epOut, epIn)
	}
	if size < 16 || size > 1024 {
		return nil, cable.Errorf(cable.ConfigurationError, "connect", "packet_size %d out of range", size)
	}
	return &Driver{
		cfg: cfg,
		open: func(c usbconn.Config) (usbconn.Transport, error) {
			return usbconn.Open(c)
		},
		epOut:      uint8(epOut),
		epIn:       uint8(epIn),
		packetSize: int(size),
		log:        slog.Default().With("driver", "cmsisdap"),
	}, nil
}

// Init opens the probe, reads its identity and switches it to JTAG.
func (d *Driver) Init() error {
	t, err := d.open(d.cfg)
	if err != nil {
		return err
	}
	d.t = t
	if err := d.queryInfo(); err != nil {
		d.closeTransport()
		return err
	}
	if err := d.connect(); err != nil {
		d.closeTransport()
		return err
	}
	d.shadow = cable.NewShadow(writable, cable.SignalTRST|cable.SignalRESET)
	if _, err := d.SetFrequency(defaultFrequency); err != nil {
		d.closeTransport()
		return err
	}
	return nil
}

// queryInfo reads the identity strings. Only the packet size is required;
// probes may leave the strings empty.
func (d *Driver) queryInfo() error {
	str := func(id byte) string {
		resp, err := d.exchange(EncodeInfo(id))
		if err != nil {
			return ""
		}
		s, _ := DecodeInfoString(resp)
		return s
	}
	d.info = cable.Info{
		Name:         "CMSIS-DAP",
		Vendor:       str(InfoVendor),
		Model:        str(InfoProduct),
		SerialNumber: str(InfoSerial),
		Firmware:     str(InfoFirmware),
		MinFrequency: minFrequency,
		MaxFrequency: maxFrequency,
		SupportsSRST: true,
		SupportsTRST: true,
	}

	resp, err := d.exchange(EncodeInfo(InfoPacketSize))
	if err != nil {
		return err
	}
	payload, err := DecodeInfo(resp)
	if err != nil {
		return err
	}
	if len(payload) == 2 {
		if size := int(payload[0]) | int(payload[1])<<8; size >= 16 {
			d.packetSize = size
		}
	}
	d.log.Debug("probe identified", "vendor", d.info.Vendor, "product", d.info.Model, "packet", d.packetSize)
	return nil
}

func (d *Driver) connect() error {
	resp, err := d.exchange(EncodeConnect(PortJTAG))
	if err != nil {
		return err
	}
	port, err := DecodeConnect(resp)
	if err != nil {
		return err
	}
	if port != PortJTAG {
		return cable.Errorf(cable.TransportOpenFailure, "connect", "probe selected port %d, want JTAG", port)
	}
	d.connected = true
	return nil
}

// Done disconnects the probe and closes the device.
func (d *Driver) Done() error {
	if d.t == nil {
		return nil
	}
	if d.connected {
		if resp, err := d.exchange(EncodeDisconnect()); err != nil {
			d.log.Debug("disconnect failed", "err", err)
		} else if err := checkStatus(resp, CmdDisconnect); err != nil {
			d.log.Debug("disconnect refused", "err", err)
		}
		d.connected = false
	}
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

// SetFrequency programs DAP_SWJ_Clock, clamped to the probe's range.
func (d *Driver) SetFrequency(hz uint32) (uint32, error) {
	hz = max(min(hz, maxFrequency), minFrequency)
	resp, err := d.exchange(EncodeSWJClock(hz))
	if err != nil {
		return 0, err
	}
	if err := checkStatus(resp, CmdSWJClock); err != nil {
		return 0, cable.Wrap(cable.TransportIOFailure, "set frequency", err)
	}
	return hz, nil
}

// Clock sends n pulses as DAP_JTAG_Sequence entries without capture.
func (d *Driver) Clock(tms, tdi bool, n int) error {
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = tdi
	}
	if _, err := d.sequence(Split(bits, tms, false)); err != nil {
		return err
	}
	d.shadow.Apply(cable.SignalTMS|cable.SignalTDI|cable.SignalTCK,
		cable.Level(cable.SignalTMS, tms)|cable.Level(cable.SignalTDI, tdi))
	return nil
}

// Transfer shifts in with TMS low, capturing TDO when out is non-nil.
func (d *Driver) Transfer(in, out []bool) (int, error) {
	done, tdo, err := d.sequenceBits(Split(in, false, out != nil))
	if out != nil {
		copy(out, tdo)
	}
	if err != nil {
		return len(in) - done, err
	}
	if len(in) > 0 {
		d.shadow.Apply(cable.SignalTMS|cable.SignalTDI|cable.SignalTCK, cable.Level(cable.SignalTDI, in[len(in)-1]))
	}
	return 0, nil
}

func (d *Driver) sequence(seqs []Sequence) ([]bool, error) {
	_, tdo, err := d.sequenceBits(seqs)
	return tdo, err
}

// sequenceBits sends seqs in as few packets as fit and returns the number
// of pulses confirmed by the probe.
func (d *Driver) sequenceBits(seqs []Sequence) (int, []bool, error) {
	done := 0
	var tdo []bool
	batches := Batch(seqs, d.packetSize)
	for _, batch := range batches {
		resp, err := d.exchange(EncodeJTAGSequence(batch))
		if err != nil {
			return done, tdo, err
		}
		bits, err := DecodeJTAGSequence(resp, batch)
		if err != nil {
			return done, tdo, cable.Wrap(cable.TransportIOFailure, "jtag sequence", err)
		}
		tdo = append(tdo, bits...)
		for _, s := range batch {
			done += len(s.Bits)
		}
	}
	d.log.Debug("jtag sequences", "pulses", done, "packets", len(batches))
	return done, tdo, nil
}

// GetTDO reads the pins with DAP_SWJ_Pins.
func (d *Driver) GetTDO() (bool, error) {
	pins, err := d.pins(0, 0)
	if err != nil {
		return false, err
	}
	return pins&PinTDO != 0, nil
}

func (d *Driver) pins(out, sel byte) (byte, error) {
	resp, err := d.exchange(EncodeSWJPins(out, sel, 0))
	if err != nil {
		return 0, err
	}
	pins, err := DecodeSWJPins(resp)
	if err != nil {
		return 0, cable.Wrap(cable.TransportIOFailure, "swj pins", err)
	}
	return pins, nil
}

// SetSignal drives the masked lines with DAP_SWJ_Pins.
func (d *Driver) SetSignal(mask, val cable.Signal) (cable.Signal, error) {
	mask &= writable
	if _, err := d.pins(pinBits(val), pinBits(mask)); err != nil {
		return 0, err
	}
	return d.shadow.Apply(mask, val), nil
}

// GetSignal answers output lines from shadow state and TDO from the pins.
func (d *Driver) GetSignal(sig cable.Signal) (cable.Signal, error) {
	v := d.shadow.Get(sig)
	if sig&cable.SignalTDO != 0 {
		tdo, err := d.GetTDO()
		if err != nil {
			return 0, err
		}
		v |= cable.Level(cable.SignalTDO, tdo)
	}
	return v, nil
}

// FlushStrategy coalesces shift-state clocks into sequence packets.
func (d *Driver) FlushStrategy() cable.FlushStrategy { return cable.FlushCoalesced }

// Info returns the identity read during Init.
func (d *Driver) Info() cable.Info {
	info := d.info
	if info.Name == "" {
		info.Name = "CMSIS-DAP"
	}
	if info.SerialNumber == "" {
		info.SerialNumber = d.cfg.Serial
	}
	return info
}

// exchange writes one command packet and reads its response.
func (d *Driver) exchange(cmd []byte) ([]byte, error) {
	if d.t == nil {
		return nil, cable.Errorf(cable.ProtocolStateError, "exchange", "probe not open")
	}
	if len(cmd) > d.packetSize {
		return nil, cable.Errorf(cable.AllocationFailure, "exchange", "command of %d bytes exceeds packet size %d", len(cmd), d.packetSize)
	}
	if _, err := d.t.Write(d.epOut, cmd); err != nil {
		return nil, err
	}
	resp := make([]byte, d.packetSize)
	n, err := d.t.Read(d.epIn, resp)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, cable.Errorf(cable.TransportIOFailure, "exchange", "empty response to %#02x", cmd[0])
	}
	return resp[:n], nil
}

func pinBits(s cable.Signal) byte {
	var b byte
	for _, m := range []struct {
		sig cable.Signal
		pin byte
	}{
		{cable.SignalTCK, PinTCK},
		{cable.SignalTMS, PinTMS},
		{cable.SignalTDI, PinTDI},
		{cable.SignalTRST, PinNTRST},
		{cable.SignalRESET, PinNRESET},
	} {
		if s&m.sig != 0 {
			b |= m.pin
		}
	}
	return b
}
