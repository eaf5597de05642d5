package gpio

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Line is one GPIO line as seen by the driver.
type Line interface {
	// Out configures the line as an output and drives it.
	Out(high bool) error
	// In configures the line as an input.
	In() error
	// Read samples the line.
	Read() bool
}

// Backend resolves line names to lines.
type Backend interface {
	Name() string
	Line(name string) (Line, error)
	Close() error
}

// Backends by name.
var backends = map[string]func() (Backend, error){
	"periph": openPeriph,
	"rpio":   openRPIO,
}

var periphInit struct {
	once sync.Once
	err  error
}

// periphBackend resolves lines through the periph.io registry, which
// accepts both names ("GPIO17") and numbers ("17").
type periphBackend struct{}

func openPeriph() (Backend, error) {
	periphInit.once.Do(func() {
		_, periphInit.err = host.Init()
	})
	if periphInit.err != nil {
		return nil, fmt.Errorf("gpio: periph host init: %w", periphInit.err)
	}
	return periphBackend{}, nil
}

func (periphBackend) Name() string { return "periph" }

func (periphBackend) Line(name string) (Line, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio: no line named %q", name)
	}
	return periphLine{p}, nil
}

func (periphBackend) Close() error { return nil }

type periphLine struct{ p gpio.PinIO }

func (l periphLine) Out(high bool) error { return l.p.Out(gpio.Level(high)) }

func (l periphLine) In() error { return l.p.In(gpio.PullNoChange, gpio.NoEdge) }

func (l periphLine) Read() bool { return l.p.Read() == gpio.High }

// rpioBackend maps /dev/gpiomem directly. Lines are BCM numbers.
type rpioBackend struct{}

func openRPIO() (Backend, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: rpio open: %w", err)
	}
	return rpioBackend{}, nil
}

func (rpioBackend) Name() string { return "rpio" }

func (rpioBackend) Line(name string) (Line, error) {
	n, err := strconv.ParseUint(name, 0, 8)
	if err != nil || n > 53 {
		return nil, fmt.Errorf("gpio: rpio line %q is not a BCM number", name)
	}
	return &rpioLine{pin: rpio.Pin(n)}, nil
}

func (rpioBackend) Close() error { return rpio.Close() }

type rpioLine struct {
	pin    rpio.Pin
	output bool
}

func (l *rpioLine) Out(high bool) error {
	if !l.output {
		l.pin.Output()
		l.output = true
	}
	if high {
		l.pin.Write(rpio.High)
	} else {
		l.pin.Write(rpio.Low)
	}
	return nil
}

func (l *rpioLine) In() error {
	l.pin.Input()
	l.pin.PullOff()
	l.output = false
	return nil
}

func (l *rpioLine) Read() bool { return l.pin.Read() == rpio.High }
