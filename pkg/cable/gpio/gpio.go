// Package gpio bit-bangs JTAG over four or five host GPIO lines.
//
// Params:
//
//	tdi, tdo, tms, tck   line names (required)
//	trst                 line name (optional)
//	backend              periph (default) or rpio
package gpio

import (
	"log/slog"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/jtagcable/pkg/cable"
)

func init() {
	cable.Register(cable.DriverSpec{
		Name:        "GPIO",
		Description: "bit-banged JTAG on host GPIO lines",
		Kind:        cable.DeviceGPIO,
		Connect:     Connect,
	})
}

type lines struct {
	tdi, tdo, tms, tck, trst Line
}

// Driver toggles GPIO lines one pulse at a time. TDO is the only line read
// back; every output is reported from the shadow.
type Driver struct {
	names   map[string]string
	backend string
	open    func(string) (Backend, error)

	b          Backend
	l          lines
	shadow     cable.Shadow
	frequency  uint32
	halfPeriod time.Duration
	sleep      func(time.Duration)
	log        *slog.Logger
}

// Connect validates params. Lines are claimed in Init.
func Connect(p cable.Params) (cable.Driver, error) {
	d, err := newDriver(p)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newDriver(p cable.Params) (*Driver, error) {
	d := &Driver{
		names:   map[string]string{},
		backend: strings.ToLower(p.String("backend", "periph")),
		open: func(name string) (Backend, error) {
			return backends[name]()
		},
		sleep: time.Sleep,
		log:   slog.Default().With("driver", "gpio"),
	}
	if _, ok := backends[d.backend]; !ok {
		return nil, cable.Errorf(cable.ConfigurationError, "connect", "unknown gpio backend %q", d.backend)
	}
	for _, key := range []string{"tdi", "tdo", "tms", "tck"} {
		if !p.Has(key) || p.String(key, "") == "" {
			return nil, cable.Errorf(cable.ConfigurationError, "connect", "required parameter %q is missing", key)
		}
		d.names[key] = p.String(key, "")
	}
	if v := p.String("trst", ""); v != "" {
		d.names["trst"] = v
	}
	return d, nil
}

// Init claims the lines: TDO as input, the rest as outputs driven low,
// TRST high.
func (d *Driver) Init() error {
	b, err := d.open(d.backend)
	if err != nil {
		return cable.Wrap(cable.TransportOpenFailure, "init", err)
	}
	get := func(key string) (Line, error) {
		name, ok := d.names[key]
		if !ok {
			return nil, nil
		}
		l, err := b.Line(name)
		if err != nil {
			return nil, cable.Wrap(cable.TransportOpenFailure, "init", err)
		}
		return l, nil
	}
	var l lines
	for _, x := range []struct {
		key string
		dst *Line
	}{
		{"tdi", &l.tdi}, {"tdo", &l.tdo}, {"tms", &l.tms}, {"tck", &l.tck}, {"trst", &l.trst},
	} {
		if *x.dst, err = get(x.key); err != nil {
			b.Close()
			return err
		}
	}

	writable := cable.SignalTCK | cable.SignalTMS | cable.SignalTDI
	initial := cable.SignalNone
	if l.trst != nil {
		writable |= cable.SignalTRST
		initial |= cable.SignalTRST
	}
	steps := []func() error{
		l.tdo.In,
		func() error { return l.tck.Out(false) },
		func() error { return l.tms.Out(false) },
		func() error { return l.tdi.Out(false) },
	}
	if l.trst != nil {
		steps = append(steps, func() error { return l.trst.Out(true) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.Close()
			return cable.Wrap(cable.TransportOpenFailure, "init", err)
		}
	}
	d.b, d.l = b, l
	d.shadow = cable.NewShadow(writable, initial)
	d.log.Debug("lines claimed", "backend", b.Name(), "lines", d.names)
	return nil
}

// Done floats the outputs and releases the backend.
func (d *Driver) Done() error {
	if d.b == nil {
		return nil
	}
	for _, l := range []Line{d.l.tck, d.l.tms, d.l.tdi, d.l.trst} {
		if l != nil {
			l.In()
		}
	}
	err := d.b.Close()
	d.b = nil
	d.l = lines{}
	return err
}

// SetFrequency sets the delay between TCK edges. Zero runs unthrottled.
func (d *Driver) SetFrequency(hz uint32) (uint32, error) {
	d.frequency = hz
	d.halfPeriod = 0
	if hz > 0 {
		d.halfPeriod = (physic.Frequency(hz) * physic.Hertz).Period() / 2
	}
	return hz, nil
}

func (d *Driver) delay() {
	if d.halfPeriod > 0 {
		d.sleep(d.halfPeriod)
	}
}

// Clock sets TMS and TDI, then toggles TCK low-high-low n times.
func (d *Driver) Clock(tms, tdi bool, n int) error {
	if d.b == nil {
		return cable.Errorf(cable.ProtocolStateError, "clock", "lines not claimed")
	}
	if err := d.l.tms.Out(tms); err != nil {
		return cable.Wrap(cable.TransportIOFailure, "clock", err)
	}
	if err := d.l.tdi.Out(tdi); err != nil {
		return cable.Wrap(cable.TransportIOFailure, "clock", err)
	}
	d.shadow.Apply(cable.SignalTMS|cable.SignalTDI, cable.Level(cable.SignalTMS, tms)|cable.Level(cable.SignalTDI, tdi))
	for i := 0; i < n; i++ {
		for _, level := range []bool{false, true, false} {
			if err := d.l.tck.Out(level); err != nil {
				return cable.Wrap(cable.TransportIOFailure, "clock", err)
			}
			d.delay()
		}
	}
	d.shadow.Clear(cable.SignalTCK)
	return nil
}

// GetTDO drives TCK, TDI and TMS low before sampling TDO.
func (d *Driver) GetTDO() (bool, error) {
	if d.b == nil {
		return false, cable.Errorf(cable.ProtocolStateError, "get tdo", "lines not claimed")
	}
	for _, l := range []Line{d.l.tck, d.l.tdi, d.l.tms} {
		if err := l.Out(false); err != nil {
			return false, cable.Wrap(cable.TransportIOFailure, "get tdo", err)
		}
	}
	d.shadow.Clear(cable.SignalTCK | cable.SignalTDI | cable.SignalTMS)
	d.delay()
	return d.l.tdo.Read(), nil
}

// SetSignal drives the writable lines in mask.
func (d *Driver) SetSignal(mask, val cable.Signal) (cable.Signal, error) {
	if d.b == nil {
		return 0, cable.Errorf(cable.ProtocolStateError, "set signal", "lines not claimed")
	}
	mask &= d.shadow.Writable()
	for _, x := range []struct {
		sig  cable.Signal
		line Line
	}{
		{cable.SignalTCK, d.l.tck}, {cable.SignalTMS, d.l.tms}, {cable.SignalTDI, d.l.tdi}, {cable.SignalTRST, d.l.trst},
	} {
		if mask&x.sig == 0 {
			continue
		}
		if err := x.line.Out(val&x.sig != 0); err != nil {
			return 0, cable.Wrap(cable.TransportIOFailure, "set signal", err)
		}
	}
	return d.shadow.Apply(mask, val), nil
}

// GetSignal reports outputs from the shadow and samples TDO.
func (d *Driver) GetSignal(sig cable.Signal) (cable.Signal, error) {
	if d.b == nil {
		return 0, cable.Errorf(cable.ProtocolStateError, "get signal", "lines not claimed")
	}
	v := d.shadow.Get(sig)
	if sig&cable.SignalTDO != 0 && d.l.tdo.Read() {
		v |= cable.SignalTDO
	}
	return v, nil
}

// Info describes the line mapping.
func (d *Driver) Info() cable.Info {
	return cable.Info{
		Name:         "GPIO",
		Model:        d.backend,
		SupportsTRST: d.names["trst"] != "",
		Notes:        "tdi=" + d.names["tdi"] + " tdo=" + d.names["tdo"] + " tms=" + d.names["tms"] + " tck=" + d.names["tck"],
	}
}
