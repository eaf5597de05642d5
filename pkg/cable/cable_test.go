package cable

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var errWireCut = errors.New("wire cut")

// shiftDriver models a single shift register wired TDI -> reg -> TDO. It
// implements only the primitive operations.
type shiftDriver struct {
	reg       []bool
	shadow    Shadow
	clocks    int
	failAfter int
	calls     map[string]int
	inited    bool
}

func newShiftDriver(reg ...bool) *shiftDriver {
	return &shiftDriver{
		reg:       reg,
		shadow:    NewShadow(SignalTRST|SignalRESET, SignalTRST|SignalRESET),
		failAfter: -1,
		calls:     map[string]int{},
	}
}

func (d *shiftDriver) Init() error { d.inited = true; d.calls["init"]++; return nil }
func (d *shiftDriver) Done() error { d.inited = false; d.calls["done"]++; return nil }

func (d *shiftDriver) SetFrequency(hz uint32) (uint32, error) {
	d.calls["freq"]++
	return hz, nil
}

func (d *shiftDriver) Clock(tms, tdi bool, n int) error {
	d.calls["clock"]++
	for i := 0; i < n; i++ {
		if d.failAfter >= 0 && d.clocks >= d.failAfter {
			return errWireCut
		}
		if !tms {
			d.shift(tdi)
		}
		d.clocks++
	}
	return nil
}

func (d *shiftDriver) shift(tdi bool) {
	copy(d.reg, d.reg[1:])
	d.reg[len(d.reg)-1] = tdi
}

func (d *shiftDriver) GetTDO() (bool, error) {
	d.calls["tdo"]++
	return d.reg[0], nil
}

func (d *shiftDriver) SetSignal(mask, val Signal) (Signal, error) {
	d.calls["setsig"]++
	return d.shadow.Apply(mask, val), nil
}

func (d *shiftDriver) GetSignal(sig Signal) (Signal, error) {
	d.calls["getsig"]++
	return d.shadow.Get(sig), nil
}

// blockDriver adds a native block shift and asks for coalesced flushing.
type blockDriver struct {
	*shiftDriver
}

func (d blockDriver) Transfer(in, out []bool) (int, error) {
	d.calls["transfer"]++
	for i, bit := range in {
		if out != nil {
			out[i] = d.reg[0]
		}
		d.shift(bit)
		d.clocks++
	}
	return 0, nil
}

func (d blockDriver) FlushStrategy() FlushStrategy { return FlushCoalesced }

func activeCable(t *testing.T, d Driver) *Cable {
	t.Helper()
	c := New(DriverSpec{Name: "fake"}, d, nil)
	if err := c.Init(); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	return c
}

func randomBits(r *rand.Rand, n int) []bool {
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = r.Intn(2) == 1
	}
	return bits
}

func TestGenericTransferMatchesNative(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 7, 8, 33, 240, 241, 1000} {
		seed := randomBits(r, 13)
		in := randomBits(r, n)

		generic := newShiftDriver(append([]bool(nil), seed...)...)
		gotGeneric := make([]bool, n)
		if rem, err := GenericTransfer(generic, in, gotGeneric); err != nil || rem != 0 {
			t.Fatalf("GenericTransfer(%d) = %d, %v", n, rem, err)
		}

		native := blockDriver{newShiftDriver(append([]bool(nil), seed...)...)}
		gotNative := make([]bool, n)
		if rem, err := native.Transfer(in, gotNative); err != nil || rem != 0 {
			t.Fatalf("Transfer(%d) = %d, %v", n, rem, err)
		}

		if diff := cmp.Diff(gotNative, gotGeneric); diff != "" {
			t.Fatalf("n=%d generic output mismatch (-native +generic):\n%s", n, diff)
		}
		if diff := cmp.Diff(native.reg, generic.reg); diff != "" {
			t.Fatalf("n=%d register state mismatch (-native +generic):\n%s", n, diff)
		}
	}
}

func TestGenericTransferWithoutOutput(t *testing.T) {
	d := newShiftDriver(false, false, false)
	if _, err := GenericTransfer(d, []bool{true, false, true}, nil); err != nil {
		t.Fatalf("GenericTransfer returned error: %v", err)
	}
	if d.calls["tdo"] != 0 {
		t.Fatalf("GetTDO called %d times, want 0", d.calls["tdo"])
	}
	if diff := cmp.Diff([]bool{true, false, true}, d.reg); diff != "" {
		t.Fatalf("register mismatch (-want +got):\n%s", diff)
	}
}

func TestGenericTransferReportsCompletedBits(t *testing.T) {
	d := newShiftDriver(false, false, false, false)
	d.failAfter = 5
	c := activeCable(t, d)

	rem, err := c.Transfer(make([]bool, 12), make([]bool, 12))
	if err == nil {
		t.Fatalf("expected transfer error")
	}
	if rem != 7 {
		t.Fatalf("remaining = %d, want 7", rem)
	}
	if got := CompletedBits(err); got != 5 {
		t.Fatalf("CompletedBits = %d, want 5", got)
	}
	if !errors.Is(err, TransportIOFailure) {
		t.Fatalf("error %v is not a transport I/O failure", err)
	}
	if !errors.Is(err, errWireCut) {
		t.Fatalf("error %v does not wrap the driver failure", err)
	}
}

func TestGetTDOAfterClockReportsLastPulse(t *testing.T) {
	d := newShiftDriver(false, false, false, false, false, false)
	c := activeCable(t, d)
	if err := c.Clock(false, true, 5); err != nil {
		t.Fatalf("Clock returned error: %v", err)
	}
	tdo, err := c.GetTDO()
	if err != nil {
		t.Fatalf("GetTDO returned error: %v", err)
	}
	if tdo {
		t.Fatalf("GetTDO = true after 5 pulses into a 6-bit register, want false")
	}
	if err := c.Clock(false, true, 1); err != nil {
		t.Fatalf("Clock returned error: %v", err)
	}
	if tdo, _ = c.GetTDO(); !tdo {
		t.Fatalf("GetTDO = false after 6 pulses, want true")
	}
}

func TestZeroLengthTransferSkipsDriver(t *testing.T) {
	d := newShiftDriver(true)
	c := activeCable(t, d)
	pending := c.DeferClock(false, false, 2)

	rem, err := c.Transfer(nil, nil)
	if err != nil || rem != 0 {
		t.Fatalf("Transfer(nil) = %d, %v, want 0, nil", rem, err)
	}
	if pending.Done() {
		t.Fatalf("zero-length transfer flushed the queue")
	}
	if d.calls["clock"] != 0 || d.calls["tdo"] != 0 {
		t.Fatalf("driver touched by zero-length transfer: %v", d.calls)
	}
}

func TestOperationsRequireActive(t *testing.T) {
	d := newShiftDriver(false)
	c := New(DriverSpec{Name: "fake"}, d, nil)

	checks := map[string]error{
		"clock":  c.Clock(false, false, 1),
		"flush":  c.Flush(FlushCompletely),
		"done":   c.Done(),
		"freq":   c.SetFrequency(1000),
		"defer":  c.DeferGetTDO().Wait(),
		"signal": func() error { _, err := c.SetSignal(SignalTRST, 0); return err }(),
	}
	_, checks["transfer"] = c.Transfer([]bool{true}, nil)
	for name, err := range checks {
		if !errors.Is(err, ProtocolStateError) {
			t.Errorf("%s: got %v, want protocol state error", name, err)
		}
	}
	if len(d.calls) != 0 {
		t.Fatalf("driver called while not active: %v", d.calls)
	}
}

func TestLifecycle(t *testing.T) {
	d := newShiftDriver(false)
	c := New(DriverSpec{Name: "fake"}, d, nil)
	if c.State() != StateConnected {
		t.Fatalf("State = %s, want connected", c.State())
	}
	if err := c.Init(); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := c.Init(); !errors.Is(err, ProtocolStateError) {
		t.Fatalf("second Init = %v, want protocol state error", err)
	}
	pending := c.DeferClock(false, true, 1)
	if err := c.Done(); err != nil {
		t.Fatalf("Done returned error: %v", err)
	}
	if !pending.Done() {
		t.Fatalf("Done did not flush pending work")
	}
	if c.State() != StateConnected {
		t.Fatalf("State after Done = %s, want connected", c.State())
	}
	if err := c.Init(); err != nil {
		t.Fatalf("re-Init returned error: %v", err)
	}
	if err := c.Free(); err != nil {
		t.Fatalf("Free returned error: %v", err)
	}
	if c.State() != StateUnconnected {
		t.Fatalf("State after Free = %s, want unconnected", c.State())
	}
	if d.calls["init"] != 2 || d.calls["done"] != 2 {
		t.Fatalf("init/done calls = %d/%d, want 2/2", d.calls["init"], d.calls["done"])
	}
}

type queueResult struct {
	TDO    []bool
	Bits   [][]bool
	Signal []Signal
	Reg    []bool
}

func runQueue(t *testing.T, d Driver, reg func() []bool, in []bool) queueResult {
	t.Helper()
	c := activeCable(t, d)
	var (
		tdos    []*Pending
		xfers   []*Pending
		signals []*Pending
	)
	signals = append(signals, c.DeferSetSignal(SignalTRST, 0))
	c.DeferClock(false, true, 3)
	tdos = append(tdos, c.DeferGetTDO())
	xfers = append(xfers, c.DeferTransfer(in, true))
	tdos = append(tdos, c.DeferGetTDO())
	c.DeferTransfer(in[:4], false)
	xfers = append(xfers, c.DeferTransfer(in[4:9], true))
	tdos = append(tdos, c.DeferGetTDO())
	c.DeferClock(true, false, 1)
	tdos = append(tdos, c.DeferGetTDO())
	c.DeferClock(false, false, 2)
	signals = append(signals, c.DeferGetSignal(SignalTRST|SignalRESET))
	tdos = append(tdos, c.DeferGetTDO())

	if err := c.Flush(FlushCompletely); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	var res queueResult
	for _, p := range tdos {
		v, err := p.TDO()
		if err != nil {
			t.Fatalf("TDO returned error: %v", err)
		}
		res.TDO = append(res.TDO, v)
	}
	for _, p := range xfers {
		v, err := p.Bits()
		if err != nil {
			t.Fatalf("Bits returned error: %v", err)
		}
		res.Bits = append(res.Bits, v)
	}
	for _, p := range signals {
		v, err := p.Signal()
		if err != nil {
			t.Fatalf("Signal returned error: %v", err)
		}
		res.Signal = append(res.Signal, v)
	}
	res.Reg = append([]bool(nil), reg()...)
	return res
}

func TestFlushStrategiesAgree(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	seed := randomBits(r, 11)
	in := randomBits(r, 40)

	each := newShiftDriver(append([]bool(nil), seed...)...)
	block := blockDriver{newShiftDriver(append([]bool(nil), seed...)...)}

	gotEach := runQueue(t, each, func() []bool { return each.reg }, in)
	gotBlock := runQueue(t, block, func() []bool { return block.reg }, in)

	if diff := cmp.Diff(gotEach, gotBlock); diff != "" {
		t.Fatalf("flush results differ (-one-by-one +coalesced):\n%s", diff)
	}
	if block.calls["transfer"] == 0 {
		t.Fatalf("coalesced flush never used Transfer")
	}
	if block.clocks != each.clocks {
		t.Fatalf("pulse count = %d, want %d", block.clocks, each.clocks)
	}
	if want := []Signal{SignalTRST, SignalRESET}; !cmp.Equal(gotEach.Signal, want) {
		t.Fatalf("signals = %v, want %v", gotEach.Signal, want)
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	d := newShiftDriver(false, true)
	c := activeCable(t, d)
	c.DeferClock(false, true, 4)
	if err := c.Flush(FlushToOutput); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	before := d.clocks
	for i := 0; i < 3; i++ {
		if err := c.Flush(FlushCompletely); err != nil {
			t.Fatalf("Flush returned error: %v", err)
		}
	}
	if d.clocks != before {
		t.Fatalf("extra flushes clocked %d pulses", d.clocks-before)
	}
}

func TestFlushOptionallyWaitsForHighWater(t *testing.T) {
	d := newShiftDriver(false)
	c := activeCable(t, d)
	for i := 0; i < QueueHighWater-1; i++ {
		c.DeferClock(false, false, 1)
	}
	if err := c.Flush(FlushOptionally); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if c.Pending() != QueueHighWater-1 {
		t.Fatalf("Pending = %d, want %d", c.Pending(), QueueHighWater-1)
	}
	c.DeferClock(false, false, 1)
	if err := c.Flush(FlushOptionally); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending = %d after high-water flush, want 0", c.Pending())
	}
}

func TestFlushFailureAbortsRest(t *testing.T) {
	d := newShiftDriver(false, false)
	d.failAfter = 1
	c := activeCable(t, d)
	first := c.DeferClock(false, false, 1)
	second := c.DeferClock(false, false, 1)
	third := c.DeferGetTDO()

	if err := c.Flush(FlushCompletely); !errors.Is(err, TransportIOFailure) {
		t.Fatalf("Flush = %v, want transport I/O failure", err)
	}
	if err := first.Wait(); err != nil {
		t.Fatalf("first command failed: %v", err)
	}
	if err := second.Wait(); !errors.Is(err, errWireCut) {
		t.Fatalf("second command error = %v, want wire cut", err)
	}
	if _, err := third.TDO(); err == nil {
		t.Fatalf("expected aborted command to report an error")
	}
}

func TestImmediateOperationFlushesQueue(t *testing.T) {
	d := newShiftDriver(false, false, false)
	c := activeCable(t, d)
	c.DeferClock(false, true, 3)
	tdo, err := c.GetTDO()
	if err != nil {
		t.Fatalf("GetTDO returned error: %v", err)
	}
	if !tdo {
		t.Fatalf("GetTDO did not observe queued clocks")
	}
}

func TestTransferRejectsShortOutput(t *testing.T) {
	c := activeCable(t, newShiftDriver(false))
	if _, err := c.Transfer(make([]bool, 4), make([]bool, 3)); !errors.Is(err, ConfigurationError) {
		t.Fatalf("Transfer = %v, want configuration error", err)
	}
}

func TestRegistryConnect(t *testing.T) {
	var got Params
	Register(DriverSpec{
		Name: "Registry-Test",
		Kind: DeviceOther,
		Connect: func(p Params) (Driver, error) {
			got = p
			return newShiftDriver(false), nil
		},
	})

	c, err := Connect("registry-test", Params{"speed": "1"})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("State = %s, want connected", c.State())
	}
	if got.String("speed", "") != "1" {
		t.Fatalf("Connect did not receive params: %v", got)
	}

	if _, err := Connect("no-such-cable", nil); !errors.Is(err, ConfigurationError) {
		t.Fatalf("Connect(unknown) = %v, want configuration error", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register(DriverSpec{Name: "registry-test", Connect: func(Params) (Driver, error) { return nil, nil }})
}

func TestConnectFailureKeepsKind(t *testing.T) {
	Register(DriverSpec{
		Name: "failing-test",
		Connect: func(Params) (Driver, error) {
			return nil, errors.New("bad pin")
		},
	})
	_, err := Connect("failing-test", nil)
	if !errors.Is(err, ConfigurationError) {
		t.Fatalf("Connect = %v, want configuration error", err)
	}
}
