package channel

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const readCommand = "READ_CORE_MEMORY"

var hexByteRe = regexp.MustCompile(`^[0-9A-Fa-f]{2}$`)

// errStaleReply means the reply echoes a different address than the one
// requested, i.e. it answers an earlier request that timed out.
var errStaleReply = errors.New("stale reply")

// FormatRequest builds the textual read command for addr/n.
func FormatRequest(addr Address, n int) string {
	return fmt.Sprintf("%s %04X %d", readCommand, uint32(addr), n)
}

// ParseReply extracts the trailing n hex bytes of a READ_CORE_MEMORY reply.
//
// Replies look like "READ_CORE_MEMORY c0d3 00 14"; a "-1" anywhere after the
// address marks a failed read. Only two-digit hex tokens count as payload and
// the last n of them are used, so any prefix the emulator adds is ignored.
func ParseReply(text string, addr Address, n int) ([]byte, error) {
	text = strings.TrimSpace(text)
	fields := strings.Fields(text)

	payload := fields
	if len(fields) >= 2 && fields[0] == readCommand {
		if echoed, err := strconv.ParseUint(fields[1], 16, 32); err == nil && Address(echoed) != addr {
			return nil, errStaleReply
		}
		payload = fields[2:]
	}

	for _, f := range payload {
		if f == "-1" {
			return nil, fmt.Errorf("%w: %s len=%d: %s", ErrUnreadable, addr, n, truncate(text, 80))
		}
	}

	hex := make([]string, 0, len(payload))
	for _, f := range payload {
		if hexByteRe.MatchString(f) {
			hex = append(hex, f)
		}
	}
	if len(hex) < n {
		return nil, fmt.Errorf("%w: short reply for %s (want %d bytes, got %d)", ErrUnreadable, addr, n, len(hex))
	}

	hex = hex[len(hex)-n:]
	out := make([]byte, n)
	for i, h := range hex {
		v, err := strconv.ParseUint(h, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: bad byte %q", ErrUnreadable, h)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
