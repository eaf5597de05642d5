package cable

import "fmt"

type opcode uint8

const (
	opClock opcode = iota
	opGetTDO
	opTransfer
	opSetSignal
	opGetSignal
)

type command struct {
	op      opcode
	tms     bool
	tdi     bool
	n       int
	in      []bool
	capture bool
	mask    Signal
	val     Signal
	result  *Pending
}

// coalescible reports whether the command can be folded into a transfer.
func (c *command) coalescible() bool {
	switch c.op {
	case opClock:
		return !c.tms
	case opGetTDO, opTransfer:
		return true
	}
	return false
}

func (c *command) bitCount() int {
	switch c.op {
	case opClock:
		return c.n
	case opTransfer:
		return len(c.in)
	}
	return 0
}

// Pending is the result slot of a deferred cable operation. Reading a
// result before it is available flushes the owning cable.
type Pending struct {
	cable     *Cable
	done      bool
	err       error
	tdo       bool
	bits      []bool
	sig       Signal
	remaining int
}

func (p *Pending) complete() {
	p.done = true
}

func (p *Pending) fail(err error) {
	p.done = true
	p.err = err
}

// Done reports whether the operation has been executed.
func (p *Pending) Done() bool {
	return p.done
}

// Wait flushes the cable if needed and returns the operation's error.
func (p *Pending) Wait() error {
	if !p.done {
		if err := p.cable.Flush(FlushCompletely); err != nil && !p.done {
			return err
		}
	}
	if !p.done {
		return fmt.Errorf("cable: deferred operation was discarded")
	}
	return p.err
}

// TDO returns the level captured by a deferred GetTDO.
func (p *Pending) TDO() (bool, error) {
	if err := p.Wait(); err != nil {
		return false, err
	}
	return p.tdo, nil
}

// Bits returns the TDO bits captured by a deferred transfer.
func (p *Pending) Bits() ([]bool, error) {
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return p.bits, nil
}

// Signal returns the value produced by a deferred SetSignal (the previous
// masked levels) or GetSignal.
func (p *Pending) Signal() (Signal, error) {
	if err := p.Wait(); err != nil {
		return 0, err
	}
	return p.sig, nil
}
