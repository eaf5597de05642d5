package cmsisdap

import (
	"encoding/binary"
	"fmt"

	"github.com/OpenTraceLab/jtagcable/internal/bitpack"
)

// Command IDs
const (
	CmdInfo         = 0x00
	CmdConnect      = 0x02
	CmdDisconnect   = 0x03
	CmdSWJPins      = 0x10
	CmdSWJClock     = 0x11
	CmdJTAGSequence = 0x14
)

// DAP_Info IDs
const (
	InfoVendor     = 0x01
	InfoProduct    = 0x02
	InfoSerial     = 0x03
	InfoFirmware   = 0x04
	InfoPacketSize = 0xFF
)

// Connection ports
const (
	PortDefault = 0
	PortSWD     = 1
	PortJTAG    = 2
)

const statusOK = 0x00

// DAP_SWJ_Pins bits
const (
	PinTCK    = 1 << 0
	PinTMS    = 1 << 1
	PinTDI    = 1 << 2
	PinTDO    = 1 << 3
	PinNTRST  = 1 << 5
	PinNRESET = 1 << 7
)

// Sequence info byte
const (
	seqCountMask = 0x3F // 0 encodes 64
	seqTMS       = 0x40
	seqCapture   = 0x80

	// MaxSequenceBits is the TCK count limit of one sequence.
	MaxSequenceBits = 64
)

// Sequence is one DAP_JTAG_Sequence entry: up to 64 TCK pulses with TMS
// fixed and TDI taken from Bits.
type Sequence struct {
	TMS     bool
	Capture bool
	Bits    []bool
}

// requestSize is the number of bytes the sequence adds to a request.
func (s Sequence) requestSize() int {
	return 1 + bitpack.Bytes(len(s.Bits))
}

// responseSize is the number of TDO bytes the sequence adds to a response.
func (s Sequence) responseSize() int {
	if !s.Capture {
		return 0
	}
	return bitpack.Bytes(len(s.Bits))
}

func (s Sequence) info() byte {
	info := byte(len(s.Bits) & seqCountMask)
	if s.TMS {
		info |= seqTMS
	}
	if s.Capture {
		info |= seqCapture
	}
	return info
}

// EncodeInfo builds a DAP_Info request.
func EncodeInfo(id byte) []byte {
	return []byte{CmdInfo, id}
}

// DecodeInfo returns the payload of a DAP_Info response.
func DecodeInfo(resp []byte) ([]byte, error) {
	if err := checkHeader(resp, CmdInfo, 2); err != nil {
		return nil, err
	}
	n := int(resp[1])
	if len(resp) < 2+n {
		return nil, fmt.Errorf("cmsisdap: DAP_Info payload truncated: %d of %d bytes", len(resp)-2, n)
	}
	return resp[2 : 2+n], nil
}

// DecodeInfoString returns a DAP_Info string without its terminator.
func DecodeInfoString(resp []byte) (string, error) {
	b, err := DecodeInfo(resp)
	if err != nil {
		return "", err
	}
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(b), nil
}

// EncodeConnect builds a DAP_Connect request.
func EncodeConnect(port byte) []byte {
	return []byte{CmdConnect, port}
}

// DecodeConnect returns the port the probe switched to.
func DecodeConnect(resp []byte) (byte, error) {
	if err := checkHeader(resp, CmdConnect, 2); err != nil {
		return 0, err
	}
	if resp[1] == PortDefault {
		return 0, fmt.Errorf("cmsisdap: DAP_Connect refused")
	}
	return resp[1], nil
}

// EncodeDisconnect builds a DAP_Disconnect request.
func EncodeDisconnect() []byte {
	return []byte{CmdDisconnect}
}

// EncodeSWJClock builds a DAP_SWJ_Clock request.
func EncodeSWJClock(hz uint32) []byte {
	cmd := make([]byte, 5)
	cmd[0] = CmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], hz)
	return cmd
}

// EncodeSWJPins builds a DAP_SWJ_Pins request. Only pins in sel are
// driven; a zero sel just reads the pins.
func EncodeSWJPins(out, sel byte, waitUS uint32) []byte {
	cmd := make([]byte, 7)
	cmd[0] = CmdSWJPins
	cmd[1] = out
	cmd[2] = sel
	binary.LittleEndian.PutUint32(cmd[3:], waitUS)
	return cmd
}

// DecodeSWJPins returns the pin levels reported by the probe.
func DecodeSWJPins(resp []byte) (byte, error) {
	if err := checkHeader(resp, CmdSWJPins, 2); err != nil {
		return 0, err
	}
	return resp[1], nil
}

// EncodeJTAGSequence builds a DAP_JTAG_Sequence request. TDI bits are
// packed LSB first.
func EncodeJTAGSequence(seqs []Sequence) []byte {
	size := 2
	for _, s := range seqs {
		size += s.requestSize()
	}
	cmd := make([]byte, 2, size)
	cmd[0] = CmdJTAGSequence
	cmd[1] = byte(len(seqs))
	for _, s := range seqs {
		cmd = append(cmd, s.info())
		cmd = append(cmd, bitpack.PackLSB(s.Bits)...)
	}
	return cmd
}

// DecodeJTAGSequence returns the TDO bits of the capturing sequences, in
// order, as one slice.
func DecodeJTAGSequence(resp []byte, seqs []Sequence) ([]bool, error) {
	if err := checkStatus(resp, CmdJTAGSequence); err != nil {
		return nil, err
	}
	var tdo []bool
	off := 2
	for _, s := range seqs {
		if !s.Capture {
			continue
		}
		n := s.responseSize()
		if off+n > len(resp) {
			return nil, fmt.Errorf("cmsisdap: DAP_JTAG_Sequence response truncated")
		}
		bits := make([]bool, len(s.Bits))
		bitpack.UnpackLSB(bits, resp[off:off+n], len(s.Bits))
		tdo = append(tdo, bits...)
		off += n
	}
	return tdo, nil
}

func checkStatus(resp []byte, cmd byte) error {
	if err := checkHeader(resp, cmd, 2); err != nil {
		return err
	}
	if resp[1] != statusOK {
		return fmt.Errorf("cmsisdap: command %#02x failed with status %#02x", cmd, resp[1])
	}
	return nil
}

func checkHeader(resp []byte, cmd byte, minLen int) error {
	if len(resp) < minLen {
		return fmt.Errorf("cmsisdap: response to %#02x too short (%d bytes)", cmd, len(resp))
	}
	if resp[0] != cmd {
		return fmt.Errorf("cmsisdap: response ID %#02x, want %#02x", resp[0], cmd)
	}
	return nil
}

// Split cuts bits into sequences of at most 64 pulses.
func Split(bits []bool, tms, capture bool) []Sequence {
	seqs := make([]Sequence, 0, (len(bits)+MaxSequenceBits-1)/MaxSequenceBits)
	for off := 0; off < len(bits); off += MaxSequenceBits {
		end := min(off+MaxSequenceBits, len(bits))
		seqs = append(seqs, Sequence{TMS: tms, Capture: capture, Bits: bits[off:end]})
	}
	return seqs
}

// Batch groups sequences so that neither request nor response exceeds
// packetSize bytes.
func Batch(seqs []Sequence, packetSize int) [][]Sequence {
	var out [][]Sequence
	start, req, resp := 0, 2, 2
	for i, s := range seqs {
		if i > start && (req+s.requestSize() > packetSize || resp+s.responseSize() > packetSize || i-start == 255) {
			out = append(out, seqs[start:i])
			start, req, resp = i, 2, 2
		}
		req += s.requestSize()
		resp += s.responseSize()
	}
	if start < len(seqs) {
		out = append(out, seqs[start:])
	}
	return out
}
