// Package tap models the IEEE 1149.1 TAP controller. It performs no I/O;
// callers drive the TMS sequences it computes through a cable.
package tap

import (
	"fmt"
)

// State is one of the 16 TAP controller states.
type State uint8

const (
	TestLogicReset State = iota
	RunTestIdle
	SelectDRScan
	CaptureDR
	ShiftDR
	Exit1DR
	PauseDR
	Exit2DR
	UpdateDR
	SelectIRScan
	CaptureIR
	ShiftIR
	Exit1IR
	PauseIR
	Exit2IR
	UpdateIR

	numStates
)

var stateNames = [numStates]string{
	"Test-Logic-Reset", "Run-Test/Idle",
	"Select-DR-Scan", "Capture-DR", "Shift-DR", "Exit1-DR", "Pause-DR", "Exit2-DR", "Update-DR",
	"Select-IR-Scan", "Capture-IR", "Shift-IR", "Exit1-IR", "Pause-IR", "Exit2-IR", "Update-IR",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// IR reports whether s belongs to the instruction-register column.
func (s State) IR() bool { return s >= SelectIRScan && s <= UpdateIR }

// Shifting reports whether a pulse in s moves a register by one bit.
func (s State) Shifting() bool { return s == ShiftDR || s == ShiftIR }

// next[s][tms]
var next = [numStates][2]State{
	TestLogicReset: {RunTestIdle, TestLogicReset},
	RunTestIdle:    {RunTestIdle, SelectDRScan},
	SelectDRScan:   {CaptureDR, SelectIRScan},
	CaptureDR:      {ShiftDR, Exit1DR},
	ShiftDR:        {ShiftDR, Exit1DR},
	Exit1DR:        {PauseDR, UpdateDR},
	PauseDR:        {PauseDR, Exit2DR},
	Exit2DR:        {ShiftDR, UpdateDR},
	UpdateDR:       {RunTestIdle, SelectDRScan},
	SelectIRScan:   {CaptureIR, TestLogicReset},
	CaptureIR:      {ShiftIR, Exit1IR},
	ShiftIR:        {ShiftIR, Exit1IR},
	Exit1IR:        {PauseIR, UpdateIR},
	PauseIR:        {PauseIR, Exit2IR},
	Exit2IR:        {ShiftIR, UpdateIR},
	UpdateIR:       {RunTestIdle, SelectDRScan},
}

// Next returns the state entered after one TCK pulse with the given TMS.
func Next(s State, tms bool) State {
	if s >= numStates {
		panic(fmt.Sprintf("tap: invalid state %d", uint8(s)))
	}
	if tms {
		return next[s][1]
	}
	return next[s][0]
}

// ResetTMS is the TMS pattern that reaches Test-Logic-Reset from any state.
var ResetTMS = []bool{true, true, true, true, true}

// Path returns the shortest TMS sequence leading from one state to another.
// The sequence is empty when from == to.
func Path(from, to State) ([]bool, error) {
	if from >= numStates || to >= numStates {
		return nil, fmt.Errorf("tap: invalid path %d -> %d", uint8(from), uint8(to))
	}
	if from == to {
		return nil, nil
	}
	// Breadth-first search; prev records the edge that first reached each state.
	type edge struct {
		from State
		tms  bool
		seen bool
	}
	var prev [numStates]edge
	prev[from].seen = true
	queue := []State{from}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, tms := range []bool{false, true} {
			n := Next(s, tms)
			if prev[n].seen {
				continue
			}
			prev[n] = edge{from: s, tms: tms, seen: true}
			if n == to {
				var path []bool
				for at := to; at != from; at = prev[at].from {
					path = append(path, prev[at].tms)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path, nil
			}
			queue = append(queue, n)
		}
	}
	return nil, fmt.Errorf("tap: no path from %s to %s", from, to)
}

// Machine tracks the controller state of a chain.
type Machine struct {
	state State
}

// NewMachine returns a machine in Test-Logic-Reset.
func NewMachine() *Machine {
	return &Machine{state: TestLogicReset}
}

// State returns the tracked state.
func (m *Machine) State() State {
	return m.state
}

// Clock applies one pulse.
func (m *Machine) Clock(tms bool) State {
	m.state = Next(m.state, tms)
	return m.state
}

// ClockN applies n pulses with the same TMS level.
func (m *Machine) ClockN(tms bool, n int) State {
	for i := 0; i < n; i++ {
		m.Clock(tms)
	}
	return m.state
}

// Reset forces Test-Logic-Reset, e.g. after TRST.
func (m *Machine) Reset() {
	m.state = TestLogicReset
}

// Walk returns the TMS sequence to target and advances the machine.
func (m *Machine) Walk(target State) ([]bool, error) {
	path, err := Path(m.state, target)
	if err != nil {
		return nil, err
	}
	m.state = target
	return path, nil
}
