package cable

import "fmt"

// GenericTransfer shifts in onto TDI one pulse at a time using only Clock
// and GetTDO. It is the reference behaviour every native Transfer must
// match: out[i] is the TDO level read just before bit i is clocked.
func GenericTransfer(d Driver, in, out []bool) (int, error) {
	if out != nil && len(out) < len(in) {
		return len(in), Errorf(ConfigurationError, "transfer", "output buffer holds %d bits, need %d", len(out), len(in))
	}
	for i, bit := range in {
		if out != nil {
			tdo, err := d.GetTDO()
			if err != nil {
				return len(in) - i, withCompleted("transfer", "", i, err)
			}
			out[i] = tdo
		}
		if err := d.Clock(false, bit, 1); err != nil {
			return len(in) - i, withCompleted("transfer", "", i, err)
		}
	}
	return 0, nil
}

// RoundDown picks a rate from rates, which must be sorted fastest first.
// The fastest rate not above hz wins; a request slower than every rate gets
// the slowest one. The index of the chosen rate is returned.
func RoundDown(rates []uint32, hz uint32) int {
	if len(rates) == 0 {
		return -1
	}
	for i, r := range rates {
		if hz >= r {
			return i
		}
	}
	return len(rates) - 1
}

// transfer dispatches to the driver's native block shift when it has one.
func transfer(d Driver, in, out []bool) (int, error) {
	if t, ok := d.(Transferer); ok {
		return t.Transfer(in, out)
	}
	return GenericTransfer(d, in, out)
}

func strategyOf(d Driver) FlushStrategy {
	if p, ok := d.(FlushPolicy); ok {
		return p.FlushStrategy()
	}
	return FlushEachCommand
}

// flushEach runs queued commands in order and stops at the first failure.
func flushEach(d Driver, cmds []command) error {
	for i := range cmds {
		if err := execute(d, &cmds[i]); err != nil {
			abort(cmds[i+1:], err)
			return err
		}
	}
	return nil
}

// flushCoalesced merges maximal runs of TMS-low clocks, transfers and TDO
// reads into a single Transfer call. Commands that cannot join a run are
// executed on their own.
func flushCoalesced(d Driver, cmds []command) error {
	for i := 0; i < len(cmds); {
		j := i
		bits := 0
		for j < len(cmds) && cmds[j].coalescible() {
			bits += cmds[j].bitCount()
			j++
		}
		if j-i < 2 || bits == 0 {
			if j == i {
				j = i + 1
			}
			for k := i; k < j; k++ {
				if err := execute(d, &cmds[k]); err != nil {
					abort(cmds[k+1:], err)
					return err
				}
			}
			i = j
			continue
		}
		if err := runCoalesced(d, cmds[i:j], bits); err != nil {
			abort(cmds[j:], err)
			return err
		}
		i = j
	}
	return nil
}

func runCoalesced(d Driver, run []command, bits int) error {
	in := make([]bool, 0, bits)
	for _, c := range run {
		switch c.op {
		case opClock:
			for k := 0; k < c.n; k++ {
				in = append(in, c.tdi)
			}
		case opTransfer:
			in = append(in, c.in...)
		}
	}
	out := make([]bool, bits)
	if _, err := transfer(d, in, out); err != nil {
		for k := range run {
			run[k].result.fail(err)
		}
		return err
	}

	pos := 0
	for k := range run {
		c := &run[k]
		switch c.op {
		case opClock:
			pos += c.n
			c.result.complete()
		case opTransfer:
			if c.capture {
				c.result.bits = append([]bool(nil), out[pos:pos+len(c.in)]...)
			}
			pos += len(c.in)
			c.result.complete()
		case opGetTDO:
			if pos < bits {
				c.result.tdo = out[pos]
				c.result.complete()
				continue
			}
			tdo, err := d.GetTDO()
			if err != nil {
				c.result.fail(err)
				abort(run[k+1:], err)
				return err
			}
			c.result.tdo = tdo
			c.result.complete()
		}
	}
	return nil
}

func execute(d Driver, c *command) error {
	var err error
	switch c.op {
	case opClock:
		err = d.Clock(c.tms, c.tdi, c.n)
	case opGetTDO:
		c.result.tdo, err = d.GetTDO()
	case opTransfer:
		var out []bool
		if c.capture {
			out = make([]bool, len(c.in))
		}
		c.result.remaining, err = transfer(d, c.in, out)
		c.result.bits = out
	case opSetSignal:
		c.result.sig, err = d.SetSignal(c.mask, c.val)
	case opGetSignal:
		c.result.sig, err = d.GetSignal(c.mask)
	default:
		err = fmt.Errorf("cable: unknown queued operation %d", c.op)
	}
	if err != nil {
		c.result.fail(err)
		return err
	}
	c.result.complete()
	return nil
}

func abort(rest []command, cause error) {
	for i := range rest {
		rest[i].result.fail(&Error{Kind: KindOf(cause), Op: "flush", Msg: "not executed after earlier failure", Err: cause})
	}
}
