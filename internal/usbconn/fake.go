package usbconn

import (
	"errors"
	"fmt"
)

// Packet is one recorded Write.
type Packet struct {
	Endpoint uint8
	Data     []byte
}

// Fake is an in-memory Transport for driver tests. Respond is called for
// every Read with the packets written since the previous Read and must
// fill buf.
type Fake struct {
	Writes  []Packet
	Respond func(ep uint8, sinceLastRead []Packet, buf []byte) (int, error)

	// FailWrite and FailRead, when non-nil, are returned by the n-th call
	// (1-based) named by FailWriteAt / FailReadAt, or by every call when
	// the index is zero.
	FailWrite   error
	FailWriteAt int
	FailRead    error
	FailReadAt  int

	Closed bool

	pending []Packet
	writes  int
	reads   int
}

// Write records data.
func (f *Fake) Write(ep uint8, data []byte) (int, error) {
	if f.Closed {
		return 0, errors.New("usbconn: fake transport closed")
	}
	f.writes++
	if f.FailWrite != nil && (f.FailWriteAt == 0 || f.FailWriteAt == f.writes) {
		return 0, f.FailWrite
	}
	p := Packet{Endpoint: ep, Data: append([]byte(nil), data...)}
	f.Writes = append(f.Writes, p)
	f.pending = append(f.pending, p)
	return len(data), nil
}

// Read asks Respond to fill buf.
func (f *Fake) Read(ep uint8, buf []byte) (int, error) {
	if f.Closed {
		return 0, errors.New("usbconn: fake transport closed")
	}
	f.reads++
	if f.FailRead != nil && (f.FailReadAt == 0 || f.FailReadAt == f.reads) {
		return 0, f.FailRead
	}
	if f.Respond == nil {
		return 0, fmt.Errorf("usbconn: fake transport has no response for endpoint %#02x", ep)
	}
	pending := f.pending
	f.pending = nil
	return f.Respond(ep, pending, buf)
}

// Close marks the transport closed.
func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

// WritesTo returns the recorded payloads sent to ep.
func (f *Fake) WritesTo(ep uint8) [][]byte {
	var out [][]byte
	for _, p := range f.Writes {
		if p.Endpoint == ep {
			out = append(out, p.Data)
		}
	}
	return out
}
