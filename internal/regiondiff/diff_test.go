package regiondiff

import "testing"

func TestDiff(t *testing.T) {
	prev := []byte{0x00, 0x01, 0x02, 0x03}
	cur := []byte{0x00, 0x11, 0x02, 0x04, 0x05}
	got := Diff(0xC0B0, prev, cur)
	if len(got) != 2 {
		t.Fatalf("Diff = %v, want 2 changes", got)
	}
	if got[0].Addr != 0xC0B1 || got[0].Old != 0x01 || got[0].New != 0x11 {
		t.Errorf("first change = %+v", got[0])
	}
	if got[1].Addr != 0xC0B3 {
		t.Errorf("second change at %s, want C0B3", got[1].Addr)
	}
	if Diff(0, prev, prev) != nil {
		t.Error("identical captures should have no changes")
	}
}

func TestBCD(t *testing.T) {
	tests := []struct {
		in   byte
		want int
		ok   bool
	}{
		{0x00, 0, true},
		{0x09, 9, true},
		{0x10, 10, true},
		{0x99, 99, true},
		{0x0A, 0, false},
		{0xA0, 0, false},
	}
	for _, tt := range tests {
		got, ok := BCD(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BCD(%02X) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestChangeString(t *testing.T) {
	tests := []struct {
		c    Change
		want string
	}{
		{Change{Addr: 0xD81F, Old: 0x09, New: 0x10}, "D81F: 09 -> 10 (9 -> 16)  (BCD 9 -> 10)"},
		{Change{Addr: 0xC0C0, Old: 0xFA, New: 0x05}, "C0C0: FA -> 05 (250 -> 5)  (BCD - -> 5)"},
		{Change{Addr: 0xC0C0, Old: 0xFA, New: 0xFB}, "C0C0: FA -> FB (250 -> 251)"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
