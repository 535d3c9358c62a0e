package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeEmulator answers READ_CORE_MEMORY requests from a byte map.
// If stale is set, every request first gets a reply for another address.
func fakeEmulator(t *testing.T, mem map[Address]byte, stale bool) (string, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1024)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			var cmd string
			var addr, length int
			if _, err := fmt.Sscanf(string(buf[:n]), "%s %X %d", &cmd, &addr, &length); err != nil {
				continue
			}
			if stale {
				conn.WriteToUDP([]byte(fmt.Sprintf("READ_CORE_MEMORY %x 99", addr+1)), from)
			}
			parts := []string{fmt.Sprintf("READ_CORE_MEMORY %x", addr)}
			for i := 0; i < length; i++ {
				v, ok := mem[Address(addr+i)]
				if !ok {
					parts = []string{fmt.Sprintf("READ_CORE_MEMORY %x -1", addr)}
					break
				}
				parts = append(parts, fmt.Sprintf("%02x", v))
			}
			conn.WriteToUDP([]byte(strings.Join(parts, " ")), from)
		}
	}()

	a := conn.LocalAddr().(*net.UDPAddr)
	return a.IP.String(), a.Port
}

func TestRetroArch_Read(t *testing.T) {
	host, port := fakeEmulator(t, map[Address]byte{0xC0D3: 0x00, 0xC0D4: 0x14}, false)
	ra, err := DialRetroArch(RetroArchConfig{Host: host, Port: port, Timeout: time.Second})
	if err != nil {
		t.Fatalf("DialRetroArch: %v", err)
	}
	defer ra.Close()

	got, err := ra.Read(context.Background(), 0xC0D3, 2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte{0x00, 0x14}) {
		t.Errorf("Read = % X, want 00 14", got)
	}

	if _, err := ra.Read(context.Background(), 0xD000, 1); !errors.Is(err, ErrUnreadable) {
		t.Errorf("unmapped read error = %v, want ErrUnreadable", err)
	}
}

func TestRetroArch_SkipsStaleReplies(t *testing.T) {
	host, port := fakeEmulator(t, map[Address]byte{0xC0C0: 0x03}, true)
	ra, err := DialRetroArch(RetroArchConfig{Host: host, Port: port, Timeout: time.Second})
	if err != nil {
		t.Fatalf("DialRetroArch: %v", err)
	}
	defer ra.Close()

	got, err := ra.Read(context.Background(), 0xC0C0, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got[0] != 0x03 {
		t.Errorf("Read = %02X, want 03", got[0])
	}
}

func TestRetroArch_Timeout(t *testing.T) {
	// A bound socket that never answers.
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer silent.Close()
	a := silent.LocalAddr().(*net.UDPAddr)

	ra, err := DialRetroArch(RetroArchConfig{Host: a.IP.String(), Port: a.Port, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("DialRetroArch: %v", err)
	}
	defer ra.Close()

	_, err = ra.Read(context.Background(), 0xC0D3, 1)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestLimit_Disabled(t *testing.T) {
	var calls int
	f := Func(func(ctx context.Context, addr Address, n int) ([]byte, error) {
		calls++
		return make([]byte, n), nil
	})
	ch := Limit(f, 0, 0)
	if _, err := ch.Read(context.Background(), 0, 4); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestLimit_CancelledContext(t *testing.T) {
	f := Func(func(ctx context.Context, addr Address, n int) ([]byte, error) {
		return make([]byte, n), nil
	})
	ch := Limit(f, 0.001, 1)
	ctx, cancel := context.WithCancel(context.Background())
	// First token is available immediately.
	if _, err := ch.Read(ctx, 0, 1); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	cancel()
	if _, err := ch.Read(ctx, 0, 1); err == nil {
		t.Fatal("expected error once the bucket is empty and ctx is cancelled")
	}
}
