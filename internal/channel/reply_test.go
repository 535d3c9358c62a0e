package channel

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		addr    Address
		n       int
		want    []byte
		wantErr error
	}{
		{"single byte", "READ_CORE_MEMORY c0d3 14", 0xC0D3, 1, []byte{0x14}, nil},
		{"upper case echo", "READ_CORE_MEMORY C0D3 00\n", 0xC0D3, 1, []byte{0x00}, nil},
		{"multi byte", "READ_CORE_MEMORY c0b0 01 02 ff", 0xC0B0, 3, []byte{0x01, 0x02, 0xFF}, nil},
		{"takes trailing bytes", "READ_CORE_MEMORY c0b0 aa 01 02", 0xC0B0, 2, []byte{0x01, 0x02}, nil},
		{"short address echo is not payload", "READ_CORE_MEMORY c0 7f", 0x00C0, 1, []byte{0x7F}, nil},
		{"failure marker", "READ_CORE_MEMORY c0d3 -1", 0xC0D3, 1, nil, ErrUnreadable},
		{"short reply", "READ_CORE_MEMORY c0b0 01", 0xC0B0, 2, nil, ErrUnreadable},
		{"garbage", "nope", 0xC0D3, 1, nil, ErrUnreadable},
		{"stale echo", "READ_CORE_MEMORY c0ce 1a", 0xC0D3, 1, nil, errStaleReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReply(tt.text, tt.addr, tt.n)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseReply(%q) error = %v, want %v", tt.text, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReply(%q): %v", tt.text, err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ParseReply(%q) = % X, want % X", tt.text, got, tt.want)
			}
		})
	}
}

func TestFormatRequest(t *testing.T) {
	if got := FormatRequest(0xC0D3, 1); got != "READ_CORE_MEMORY C0D3 1" {
		t.Errorf("FormatRequest = %q", got)
	}
	if got := FormatRequest(0xC0, 256); got != "READ_CORE_MEMORY 00C0 256" {
		t.Errorf("FormatRequest = %q", got)
	}
}

func TestTimeoutIsUnreadable(t *testing.T) {
	if !errors.Is(ErrTimeout, ErrUnreadable) {
		t.Fatal("ErrTimeout should wrap ErrUnreadable")
	}
}
