// Package usbconn opens USB bulk endpoints for cable drivers.
package usbconn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/gousb"

	"github.com/OpenTraceLab/jtagcable/pkg/cable"
)

// DefaultTimeout bounds every bulk transfer.
const DefaultTimeout = time.Second

// Transport moves raw bytes over bulk endpoints. Endpoint values are full
// USB addresses; bit 7 set means IN.
type Transport interface {
	Write(ep uint8, data []byte) (int, error)
	Read(ep uint8, buf []byte) (int, error)
	Close() error
}

// Config selects the device and interface to open.
type Config struct {
	VendorID  uint16
	ProductID uint16
	Serial    string
	Interface int
	Timeout   time.Duration
}

// ConfigFromParams overrides the defaults in base with the vid, pid,
// serial and interface params.
func ConfigFromParams(base Config, p cable.Params) (Config, error) {
	vid, err := p.Uint("vid", uint64(base.VendorID))
	if err != nil {
		return base, err
	}
	pid, err := p.Uint("pid", uint64(base.ProductID))
	if err != nil {
		return base, err
	}
	intf, err := p.Uint("interface", uint64(base.Interface))
	if err != nil {
		return base, err
	}
	if vid > 0xFFFF || pid > 0xFFFF {
		return base, cable.Errorf(cable.ConfigurationError, "usb params", "vid/pid out of range: %#x:%#x", vid, pid)
	}
	base.VendorID = uint16(vid)
	base.ProductID = uint16(pid)
	base.Interface = int(intf)
	base.Serial = p.String("serial", base.Serial)
	if base.Timeout == 0 {
		base.Timeout = DefaultTimeout
	}
	return base, nil
}

// Bulk is a Transport over a claimed gousb interface.
type Bulk struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	out     map[uint8]*gousb.OutEndpoint
	in      map[uint8]*gousb.InEndpoint
	timeout time.Duration
}

// Open finds the first device matching cfg and claims its interface.
func Open(cfg Config) (*Bulk, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == cfg.VendorID && uint16(desc.Product) == cfg.ProductID
	})
	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil && matchSerial(d, cfg.Serial) {
			dev = d
			continue
		}
		d.Close()
	}
	if dev == nil {
		ctx.Close()
		if err != nil {
			return nil, cable.Wrap(cable.TransportOpenFailure, "usb open", err)
		}
		return nil, cable.Errorf(cable.TransportOpenFailure, "usb open", "no device %04x:%04x%s", cfg.VendorID, cfg.ProductID, serialSuffix(cfg.Serial))
	}

	// Not supported on every platform; the claim below reports real failures.
	_ = dev.SetAutoDetach(true)

	c, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, cable.Wrap(cable.TransportOpenFailure, "usb config", err)
	}
	intf, err := c.Interface(cfg.Interface, 0)
	if err != nil {
		c.Close()
		dev.Close()
		ctx.Close()
		return nil, cable.Wrap(cable.TransportOpenFailure, fmt.Sprintf("usb claim interface %d", cfg.Interface), err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Bulk{
		ctx:     ctx,
		dev:     dev,
		cfg:     c,
		intf:    intf,
		out:     map[uint8]*gousb.OutEndpoint{},
		in:      map[uint8]*gousb.InEndpoint{},
		timeout: timeout,
	}, nil
}

func matchSerial(d *gousb.Device, want string) bool {
	if want == "" {
		return true
	}
	got, err := d.SerialNumber()
	return err == nil && strings.EqualFold(got, want)
}

func serialSuffix(serial string) string {
	if serial == "" {
		return ""
	}
	return " with serial " + serial
}

// Write sends data to the OUT endpoint ep.
func (b *Bulk) Write(ep uint8, data []byte) (int, error) {
	e, ok := b.out[ep]
	if !ok {
		var err error
		e, err = b.intf.OutEndpoint(int(ep & 0x7F))
		if err != nil {
			return 0, cable.Wrap(cable.TransportIOFailure, fmt.Sprintf("usb endpoint %#02x", ep), err)
		}
		b.out[ep] = e
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	n, err := e.WriteContext(ctx, data)
	if err != nil {
		return n, classify("usb write", ctx, err)
	}
	if n != len(data) {
		return n, cable.Errorf(cable.TransportIOFailure, "usb write", "short write: %d of %d bytes", n, len(data))
	}
	return n, nil
}

// Read fills buf from the IN endpoint ep.
func (b *Bulk) Read(ep uint8, buf []byte) (int, error) {
	e, ok := b.in[ep]
	if !ok {
		var err error
		e, err = b.intf.InEndpoint(int(ep & 0x7F))
		if err != nil {
			return 0, cable.Wrap(cable.TransportIOFailure, fmt.Sprintf("usb endpoint %#02x", ep), err)
		}
		b.in[ep] = e
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	n, err := e.ReadContext(ctx, buf)
	if err != nil {
		return n, classify("usb read", ctx, err)
	}
	return n, nil
}

// Close releases the interface, device and context.
func (b *Bulk) Close() error {
	if b.intf != nil {
		b.intf.Close()
		b.intf = nil
	}
	var err error
	if b.cfg != nil {
		err = b.cfg.Close()
		b.cfg = nil
	}
	if b.dev != nil {
		if cerr := b.dev.Close(); err == nil {
			err = cerr
		}
		b.dev = nil
	}
	if b.ctx != nil {
		if cerr := b.ctx.Close(); err == nil {
			err = cerr
		}
		b.ctx = nil
	}
	return err
}

func classify(op string, ctx context.Context, err error) error {
	if errors.Is(err, gousb.TransferTimedOut) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return cable.Wrap(cable.TransportTimeout, op, err)
	}
	return cable.Wrap(cable.TransportIOFailure, op, err)
}
