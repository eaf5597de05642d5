// Package cable implements the transport abstraction between the JTAG
// register-shift layer and physical adapters.
//
// A Cable wraps one Driver and enforces its lifecycle:
//
//	Unconnected -> Connected (Connect) -> Active (Init)
//	Active -> Connected (Done) -> Unconnected (Free)
//
// Clock, transfer and signal operations are only valid while Active.
// Composite operations missing from a driver are synthesised by the
// generic layer from Clock and GetTDO.
package cable

import (
	"errors"
	"fmt"
	"log/slog"
)

// State is a cable lifecycle state.
type State uint8

const (
	StateUnconnected State = iota
	StateConnected
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// FlushMode tells Flush how much of the deferred queue must be drained.
type FlushMode uint8

const (
	// FlushOptionally drains the queue only once it grows past the
	// high-water mark.
	FlushOptionally FlushMode = iota
	// FlushToOutput sends every queued command to the hardware.
	FlushToOutput
	// FlushCompletely sends every queued command and collects all results.
	FlushCompletely
)

// QueueHighWater is the queue length at which FlushOptionally drains.
const QueueHighWater = 256

// Cable is one physical connection. It is owned by a single chain and must
// not be used from more than one goroutine at a time.
type Cable struct {
	name      string
	spec      DriverSpec
	params    Params
	driver    Driver
	state     State
	frequency uint32
	todo      []command
	log       *slog.Logger
}

// Option customises a Cable.
type Option func(*Cable)

// WithLogger sets the logger used for lifecycle and flush messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cable) {
		if l != nil {
			c.log = l
		}
	}
}

// Connect looks up a registered driver and runs its Connect function. The
// returned cable is Connected; call Init before using it.
func Connect(name string, params Params, opts ...Option) (*Cable, error) {
	spec, ok := Lookup(name)
	if !ok {
		return nil, Errorf(ConfigurationError, "connect", "unknown cable driver %q", name)
	}
	if params == nil {
		params = Params{}
	}
	drv, err := spec.Connect(params)
	if err != nil {
		var ce *Error
		if !errors.As(err, &ce) {
			err = &Error{Kind: ConfigurationError, Op: "connect", Driver: spec.Name, Err: err}
		}
		return nil, err
	}
	return New(spec, drv, params, opts...), nil
}

// New wraps an already connected driver.
func New(spec DriverSpec, drv Driver, params Params, opts ...Option) *Cable {
	c := &Cable{
		name:   spec.Name,
		spec:   spec,
		params: params,
		driver: drv,
		state:  StateConnected,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("cable", c.name)
	return c
}

// Name returns the driver name.
func (c *Cable) Name() string { return c.name }

// Spec returns the registration record of the driver.
func (c *Cable) Spec() DriverSpec { return c.spec }

// State reports the lifecycle state.
func (c *Cable) State() State { return c.state }

// Driver exposes the underlying driver for driver-specific extensions.
func (c *Cable) Driver() Driver { return c.driver }

// Frequency returns the last clock rate applied by SetFrequency, or zero.
func (c *Cable) Frequency() uint32 { return c.frequency }

// Pending reports how many deferred commands await a flush.
func (c *Cable) Pending() int { return len(c.todo) }

// Info returns the driver's self description when it provides one.
func (c *Cable) Info() Info {
	if d, ok := c.driver.(Describer); ok {
		return d.Info()
	}
	return Info{Name: c.name}
}

// Init opens the transport.
func (c *Cable) Init() error {
	if c.state != StateConnected {
		return c.stateErr("init")
	}
	if err := c.driver.Init(); err != nil {
		return c.wrap(TransportOpenFailure, "init", err)
	}
	c.state = StateActive
	c.log.Info("cable initialised", "strategy", strategyOf(c.driver))
	return nil
}

// Done flushes pending work and releases the transport. The cable returns
// to Connected and may be initialised again.
func (c *Cable) Done() error {
	if c.state != StateActive {
		return c.stateErr("done")
	}
	flushErr := c.flush(FlushCompletely)
	err := c.driver.Done()
	c.state = StateConnected
	c.log.Info("cable released")
	if flushErr != nil {
		return flushErr
	}
	return c.wrap(TransportIOFailure, "done", err)
}

// Free releases the cable. An Active cable is released first. Calling Free
// on an unconnected cable is a no-op.
func (c *Cable) Free() error {
	var err error
	if c.state == StateActive {
		err = c.Done()
	}
	for i := range c.todo {
		c.todo[i].result.fail(c.stateErr("free"))
	}
	c.todo = nil
	c.state = StateUnconnected
	return err
}

// Disconnect is Done followed by Free.
func (c *Cable) Disconnect() error {
	return c.Free()
}

// SetFrequency applies the closest supported rate not above hz.
func (c *Cable) SetFrequency(hz uint32) error {
	if err := c.ready("set frequency"); err != nil {
		return err
	}
	actual, err := c.driver.SetFrequency(hz)
	if err != nil {
		return c.wrap(TransportIOFailure, "set frequency", err)
	}
	c.frequency = actual
	c.log.Debug("frequency set", "requested", hz, "actual", actual)
	return nil
}

// Clock emits n pulses on TCK with fixed TMS and TDI levels.
func (c *Cable) Clock(tms, tdi bool, n int) error {
	if err := c.ready("clock"); err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}
	return c.wrap(TransportIOFailure, "clock", c.driver.Clock(tms, tdi, n))
}

// GetTDO returns the current TDO level.
func (c *Cable) GetTDO() (bool, error) {
	if err := c.ready("get tdo"); err != nil {
		return false, err
	}
	tdo, err := c.driver.GetTDO()
	return tdo, c.wrap(TransportIOFailure, "get tdo", err)
}

// Transfer shifts in onto TDI with TMS held low for every bit, sampling TDO
// into out when out is non-nil. There is no TMS argument: leaving a shift
// state takes a separate Clock with TMS high. It returns the number of bits
// not shifted. A zero-length transfer succeeds without touching the
// hardware.
func (c *Cable) Transfer(in, out []bool) (int, error) {
	if c.state != StateActive {
		return len(in), c.stateErr("transfer")
	}
	if len(in) == 0 {
		return 0, nil
	}
	if out != nil && len(out) < len(in) {
		return len(in), Errorf(ConfigurationError, "transfer", "output buffer holds %d bits, need %d", len(out), len(in))
	}
	if err := c.flush(FlushCompletely); err != nil {
		return len(in), err
	}
	rem, err := transfer(c.driver, in, out)
	if err != nil {
		return rem, withCompleted("transfer", c.name, len(in)-rem, err)
	}
	return rem, nil
}

// SetSignal drives the masked lines and returns their previous levels.
func (c *Cable) SetSignal(mask, val Signal) (Signal, error) {
	if err := c.ready("set signal"); err != nil {
		return 0, err
	}
	prev, err := c.driver.SetSignal(mask, val)
	return prev, c.wrap(TransportIOFailure, "set signal", err)
}

// GetSignal reports the level of the requested lines.
func (c *Cable) GetSignal(sig Signal) (Signal, error) {
	if err := c.ready("get signal"); err != nil {
		return 0, err
	}
	v, err := c.driver.GetSignal(sig)
	return v & sig, c.wrap(TransportIOFailure, "get signal", err)
}

// DeferClock queues a Clock.
func (c *Cable) DeferClock(tms, tdi bool, n int) *Pending {
	if n <= 0 {
		return &Pending{cable: c, done: true}
	}
	return c.enqueue(command{op: opClock, tms: tms, tdi: tdi, n: n})
}

// DeferGetTDO queues a TDO read.
func (c *Cable) DeferGetTDO() *Pending {
	return c.enqueue(command{op: opGetTDO})
}

// DeferTransfer queues a transfer. in is copied; captured bits are
// available from the returned Pending when capture is true.
func (c *Cable) DeferTransfer(in []bool, capture bool) *Pending {
	if len(in) == 0 {
		p := &Pending{cable: c, done: true}
		if capture {
			p.bits = []bool{}
		}
		return p
	}
	return c.enqueue(command{op: opTransfer, in: append([]bool(nil), in...), capture: capture})
}

// DeferSetSignal queues a SetSignal.
func (c *Cable) DeferSetSignal(mask, val Signal) *Pending {
	return c.enqueue(command{op: opSetSignal, mask: mask, val: val})
}

// DeferGetSignal queues a GetSignal.
func (c *Cable) DeferGetSignal(sig Signal) *Pending {
	return c.enqueue(command{op: opGetSignal, mask: sig})
}

func (c *Cable) enqueue(cmd command) *Pending {
	cmd.result = &Pending{cable: c}
	if c.state != StateActive {
		cmd.result.fail(c.stateErr("defer"))
		return cmd.result
	}
	c.todo = append(c.todo, cmd)
	return cmd.result
}

// Flush drains the deferred queue according to mode. Flushing an empty
// queue does nothing.
func (c *Cable) Flush(mode FlushMode) error {
	if c.state != StateActive {
		return c.stateErr("flush")
	}
	return c.flush(mode)
}

func (c *Cable) flush(mode FlushMode) error {
	if len(c.todo) == 0 {
		return nil
	}
	if mode == FlushOptionally && len(c.todo) < QueueHighWater {
		return nil
	}
	cmds := c.todo
	c.todo = nil
	strategy := strategyOf(c.driver)
	c.log.Debug("flushing queue", "commands", len(cmds), "strategy", strategy)
	var err error
	switch strategy {
	case FlushCoalesced:
		err = flushCoalesced(c.driver, cmds)
	default:
		err = flushEach(c.driver, cmds)
	}
	return c.wrap(TransportIOFailure, "flush", err)
}

// ready checks the cable is Active and drains deferred work so immediate
// operations observe queued ones in order.
func (c *Cable) ready(op string) error {
	if c.state != StateActive {
		return c.stateErr(op)
	}
	return c.flush(FlushCompletely)
}

func (c *Cable) stateErr(op string) error {
	return &Error{Kind: ProtocolStateError, Op: op, Driver: c.name, Msg: fmt.Sprintf("cable is %s", c.state)}
}

// wrap classifies bare driver errors and tags cable errors with the driver
// name.
func (c *Cable) wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Driver == "" {
			cp := *ce
			cp.Driver = c.name
			if cp.Op == "" {
				cp.Op = op
			}
			return &cp
		}
		return err
	}
	return &Error{Kind: kind, Op: op, Driver: c.name, Err: err}
}
