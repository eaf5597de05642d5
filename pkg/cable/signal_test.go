package cable

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestShadowApply(t *testing.T) {
	s := NewShadow(SignalTDI|SignalTMS|SignalTCK, SignalTDO|SignalTMS)
	if s.Value() != SignalTMS {
		t.Fatalf("initial value = %s, want TMS", s.Value())
	}

	cases := []struct {
		mask, val Signal
		prev      Signal
		after     Signal
	}{
		{SignalTDI, SignalTDI, SignalNone, SignalTMS | SignalTDI},
		{SignalTMS | SignalTCK, SignalTCK, SignalTMS, SignalTDI | SignalTCK},
		{SignalTRST, SignalTRST, SignalNone, SignalTDI | SignalTCK},
		{SignalAll, SignalNone, SignalTDI | SignalTCK, SignalNone},
	}
	for i, tc := range cases {
		if got := s.Apply(tc.mask, tc.val); got != tc.prev {
			t.Fatalf("case %d: Apply returned %s, want %s", i, got, tc.prev)
		}
		if s.Value() != tc.after {
			t.Fatalf("case %d: value = %s, want %s", i, s.Value(), tc.after)
		}
	}
}

func TestShadowApplyReturnsPreviousForAllMasks(t *testing.T) {
	writable := SignalTDI | SignalTMS | SignalTCK | SignalTRST
	for start := Signal(0); start <= SignalAll; start++ {
		for mask := Signal(0); mask <= SignalAll; mask++ {
			s := NewShadow(writable, start)
			before := s.Value()
			prev := s.Apply(mask, ^start)
			if want := before & mask; prev != want {
				t.Fatalf("start=%s mask=%s: prev = %s, want %s", start, mask, prev, want)
			}
			if got := s.Value() &^ (mask & writable); got != before&^(mask&writable) {
				t.Fatalf("start=%s mask=%s: unmasked lines changed", start, mask)
			}
		}
	}
}

func TestSignalString(t *testing.T) {
	cases := map[Signal]string{
		SignalNone:               "none",
		SignalTCK:                "TCK",
		SignalTMS | SignalTDI:    "TMS|TDI",
		SignalTRST | SignalRESET: "TRST|RESET",
	}
	for sig, want := range cases {
		if got := sig.String(); got != want {
			t.Fatalf("String(%d) = %q, want %q", uint8(sig), got, want)
		}
	}
}

func TestParseSignal(t *testing.T) {
	cases := map[string]Signal{
		"tck":   SignalTCK,
		"TDO":   SignalTDO,
		"srst":  SignalRESET,
		"Reset": SignalRESET,
		" trst": SignalTRST,
	}
	for name, want := range cases {
		got, err := ParseSignal(name)
		if err != nil {
			t.Fatalf("ParseSignal(%q) returned error: %v", name, err)
		}
		if got != want {
			t.Fatalf("ParseSignal(%q) = %s, want %s", name, got, want)
		}
	}
	if _, err := ParseSignal("TCLK"); err == nil {
		t.Fatalf("expected error for unknown signal")
	}
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams([]string{"VID=0x1209", "pid=0xC0CA", "serial=ABC", "tdi=4,5", "quiet"})
	if err != nil {
		t.Fatalf("ParseParams returned error: %v", err)
	}
	want := Params{"vid": "0x1209", "pid": "0xC0CA", "serial": "ABC", "tdi": "4,5", "quiet": ""}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}
	if v, err := p.Uint("vid", 0); err != nil || v != 0x1209 {
		t.Fatalf("Uint(vid) = %#x, %v", v, err)
	}
	if v, err := p.Uint("absent", 42); err != nil || v != 42 {
		t.Fatalf("Uint(absent) = %d, %v, want default", v, err)
	}
	if _, err := p.Uint("serial", 0); !errors.Is(err, ConfigurationError) {
		t.Fatalf("Uint(serial) error = %v, want configuration error", err)
	}
	if _, err := p.RequireUint("tck"); !errors.Is(err, ConfigurationError) {
		t.Fatalf("RequireUint(tck) error = %v, want configuration error", err)
	}
	list, err := p.UintList("tdi")
	if err != nil {
		t.Fatalf("UintList returned error: %v", err)
	}
	if diff := cmp.Diff([]uint64{4, 5}, list); diff != "" {
		t.Fatalf("UintList mismatch (-want +got):\n%s", diff)
	}
	if got := (Params{"b": "2", "a": "1"}).Format(); got != "a=1 b=2" {
		t.Fatalf("Format = %q", got)
	}
	if _, err := ParseParams([]string{"=1"}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestRoundDown(t *testing.T) {
	rates := []uint32{6_000_000, 3_000_000, 2_000_000, 1_000_000, 600_000, 400_000, 200_000, 100_000, 90_000}
	cases := []struct {
		hz   uint32
		want uint32
	}{
		{150_000, 100_000},
		{100_000, 100_000},
		{10_000_000, 6_000_000},
		{2_500_000, 2_000_000},
		{1_000, 90_000},
		{0, 90_000},
	}
	for _, tc := range cases {
		idx := RoundDown(rates, tc.hz)
		if rates[idx] != tc.want {
			t.Fatalf("RoundDown(%d) = %d, want %d", tc.hz, rates[idx], tc.want)
		}
	}
	if RoundDown(nil, 1) != -1 {
		t.Fatalf("RoundDown(nil) should return -1")
	}
}

func TestErrorMatching(t *testing.T) {
	err := Wrap(TransportTimeout, "read", errors.New("deadline"))
	if !errors.Is(err, TransportTimeout) {
		t.Fatalf("errors.Is(%v, TransportTimeout) = false", err)
	}
	if errors.Is(err, TransportIOFailure) {
		t.Fatalf("timeout matched I/O failure")
	}
	if !errors.Is(err, &Error{Kind: TransportTimeout}) {
		t.Fatalf("errors.Is against *Error of same kind = false")
	}
	if KindOf(err) != TransportTimeout {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("KindOf(plain) should be unknown")
	}
	if Wrap(TransportTimeout, "read", nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}
