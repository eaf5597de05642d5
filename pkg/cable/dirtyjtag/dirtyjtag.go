// Package dirtyjtag drives DirtyJTAG STM32 adapters over USB bulk
// endpoints.
//
// Every write is a list of one-byte commands with arguments, terminated by
// a STOP byte. XFER packets carry up to 240 bits MSB-first and are answered
// by a 32-byte packet holding the sampled TDO bits in the same layout.
package dirtyjtag

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/OpenTraceLab/jtagcable/internal/bitpack"
	"github.com/OpenTraceLab/jtagcable/internal/usbconn"
	"github.com/OpenTraceLab/jtagcable/pkg/cable"
)

const (
	VendorID  = 0x1209
	ProductID = 0xC0CA

	endpointOut = 0x01
	endpointIn  = 0x82

	bufferSize = 64
)

// Command opcodes.
const (
	cmdStop   = 0x00
	cmdInfo   = 0x01
	cmdFreq   = 0x02
	cmdXfer   = 0x03
	cmdSetSig = 0x04
	cmdGetSig = 0x05
	cmdClk    = 0x06
)

// Wire signal bits.
const (
	sigTCK  = 1 << 1
	sigTDI  = 1 << 2
	sigTDO  = 1 << 3
	sigTMS  = 1 << 4
	sigTRST = 1 << 5
	sigSRST = 1 << 6
)

const (
	xferPacketSize = 32
	xferMaxBits    = (xferPacketSize - 2) * 8
	clkMaxPulses   = 255
	clkCmdSize     = 3
	// STOP takes the last byte of a buffer.
	clkCmdsPerWrite = (bufferSize - 1) / clkCmdSize

	defaultKHz = 100
	maxKHz     = 0xFFFF
)

const writable = cable.SignalTCK | cable.SignalTDI | cable.SignalTMS | cable.SignalTRST | cable.SignalRESET

func init() {
	cable.Register(cable.DriverSpec{
		Name:        "DirtyJTAG",
		Description: "DirtyJTAG STM32-based cable",
		Kind:        cable.DeviceUSB,
		VendorID:    VendorID,
		ProductID:   ProductID,
		Connect:     Connect,
	})
}

// Driver is a DirtyJTAG cable.
type Driver struct {
	cfg      usbconn.Config
	open     func(usbconn.Config) (usbconn.Transport, error)
	t        usbconn.Transport
	shadow   cable.Shadow
	firmware string
	log      *slog.Logger
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
		log: slog.Default().With("driver", "dirtyjtag"),
	}, nil
}

// Init opens the device, selects 100 kHz and drives TDI, TMS and TCK low.
func (d *Driver) Init() error {
	t, err := d.open(d.cfg)
	if err != nil {
		return err
	}
	d.t = t
	d.shadow = cable.NewShadow(writable, cable.SignalTRST|cable.SignalRESET)

	if err := d.send(cmdFreq, 0, defaultKHz, cmdSetSig, sigTDI|sigTMS|sigTCK, 0); err != nil {
		d.t.Close()
		d.t = nil
		return err
	}
	d.shadow.Clear(cable.SignalTDI | cable.SignalTMS | cable.SignalTCK)

	if fw, err := d.queryInfo(); err != nil {
		d.log.Debug("firmware info unavailable", "err", err)
	} else {
		d.firmware = fw
	}
	return nil
}

// Done closes the device.
func (d *Driver) Done() error {
	if d.t == nil {
		return nil
	}
	err := d.t.Close()
	d.t = nil
	return err
}

func (d *Driver) queryInfo() (string, error) {
	if err := d.send(cmdInfo); err != nil {
		return "", err
	}
	buf := make([]byte, bufferSize)
	n, err := d.t.Read(endpointIn, buf)
	if err != nil {
		return "", err
	}
	s := string(buf[:n])
	if i := strings.IndexAny(s, "\x00\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s), nil
}

// SetFrequency programs the clock in whole kHz.
func (d *Driver) SetFrequency(hz uint32) (uint32, error) {
	khz := hz / 1000
	if khz == 0 {
		khz = 1
	}
	if khz > maxKHz {
		khz = maxKHz
	}
	if err := d.send(cmdFreq, byte(khz>>8), byte(khz)); err != nil {
		return 0, err
	}
	return khz * 1000, nil
}

// Clock emits n pulses as CLK commands of at most 255 pulses each.
func (d *Driver) Clock(tms, tdi bool, n int) error {
	var sig byte
	if tms {
		sig |= sigTMS
	}
	if tdi {
		sig |= sigTDI
	}
	cmds := make([]byte, 0, clkCmdsPerWrite*clkCmdSize)
	for n > 0 {
		k := min(n, clkMaxPulses)
		cmds = append(cmds, cmdClk, sig, byte(k))
		n -= k
		if len(cmds) == clkCmdsPerWrite*clkCmdSize || n == 0 {
			if err := d.send(cmds...); err != nil {
				return err
			}
			cmds = cmds[:0]
			// The adapter now drives the new levels even if a later write fails.
			d.shadow.Apply(cable.SignalTMS|cable.SignalTDI|cable.SignalTCK,
				cable.Level(cable.SignalTMS, tms)|cable.Level(cable.SignalTDI, tdi))
		}
	}
	return nil
}

// GetTDO asks the adapter for its current pin levels.
func (d *Driver) GetTDO() (bool, error) {
	pins, err := d.readPins()
	if err != nil {
		return false, err
	}
	return pins&sigTDO != 0, nil
}

func (d *Driver) readPins() (byte, error) {
	if err := d.send(cmdGetSig); err != nil {
		return 0, err
	}
	buf := make([]byte, bufferSize)
	n, err := d.t.Read(endpointIn, buf)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, cable.Errorf(cable.TransportIOFailure, "get signal", "empty GETSIG response")
	}
	return buf[0], nil
}

// Transfer shifts in as XFER packets of up to 240 bits.
func (d *Driver) Transfer(in, out []bool) (int, error) {
	packet := make([]byte, xferPacketSize)
	resp := make([]byte, xferPacketSize)
	done := 0
	for done < len(in) {
		nbits := min(len(in)-done, xferMaxBits)
		clear(packet)
		packet[0] = cmdXfer
		packet[1] = byte(nbits)
		bitpack.PackMSBInto(packet[2:], in[done:done+nbits])

		if err := d.send(packet...); err != nil {
			return len(in) - done, err
		}
		n, err := d.t.Read(endpointIn, resp)
		if err != nil {
			return len(in) - done, err
		}
		if n < bitpack.Bytes(nbits) {
			return len(in) - done, cable.Errorf(cable.TransportIOFailure, "transfer", "short XFER response: %d bytes for %d bits", n, nbits)
		}
		if out != nil {
			bitpack.UnpackMSB(out[done:], resp, nbits)
		}
		done += nbits
	}
	d.log.Debug("transfer", "bits", len(in), "packets", (len(in)+xferMaxBits-1)/xferMaxBits)
	d.shadow.Clear(cable.SignalTDI | cable.SignalTCK | cable.SignalTMS)
	return 0, nil
}

// SetSignal drives the masked lines with a SETSIG command.
func (d *Driver) SetSignal(mask, val cable.Signal) (cable.Signal, error) {
	mask &= writable
	val &= mask
	if err := d.send(cmdSetSig, wireBits(mask), wireBits(val)); err != nil {
		return 0, err
	}
	return d.shadow.Apply(mask, val), nil
}

// GetSignal answers output lines from shadow state and TDO from the pins.
func (d *Driver) GetSignal(sig cable.Signal) (cable.Signal, error) {
	v := d.shadow.Get(sig)
	if sig&cable.SignalTDO != 0 {
		pins, err := d.readPins()
		if err != nil {
			return 0, err
		}
		if pins&sigTDO != 0 {
			v |= cable.SignalTDO
		}
	}
	return v, nil
}

// FlushStrategy coalesces shift-state clocks into XFER packets.
func (d *Driver) FlushStrategy() cable.FlushStrategy { return cable.FlushCoalesced }

// Info describes the adapter.
func (d *Driver) Info() cable.Info {
	return cable.Info{
		Name:         "DirtyJTAG",
		Vendor:       "DirtyJTAG",
		Model:        fmt.Sprintf("%04x:%04x", d.cfg.VendorID, d.cfg.ProductID),
		SerialNumber: d.cfg.Serial,
		Firmware:     d.firmware,
		MinFrequency: 1000,
		MaxFrequency: maxKHz * 1000,
		SupportsSRST: true,
		SupportsTRST: true,
	}
}

// send writes cmds followed by STOP.
func (d *Driver) send(cmds ...byte) error {
	if d.t == nil {
		return cable.Errorf(cable.ProtocolStateError, "send", "device not open")
	}
	buf := make([]byte, len(cmds)+1)
	copy(buf, cmds)
	buf[len(cmds)] = cmdStop
	_, err := d.t.Write(endpointOut, buf)
	return err
}

func wireBits(s cable.Signal) byte {
	var b byte
	if s&cable.SignalTCK != 0 {
		b |= sigTCK
	}
	if s&cable.SignalTDI != 0 {
		b |= sigTDI
	}
	if s&cable.SignalTMS != 0 {
		b |= sigTMS
	}
	if s&cable.SignalTRST != 0 {
		b |= sigTRST
	}
	if s&cable.SignalRESET != 0 {
		b |= sigSRST
	}
	return b
}
