package inference

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrLabelFormat rejects operator input that is not a label vector.
	ErrLabelFormat = errors.New("malformed label")
	// ErrDimension reports a label or capture that does not fit the set.
	ErrDimension = errors.New("dimension mismatch")
)

// MaxDimensions bounds the label width so a vector always packs into a mask.
const MaxDimensions = 16

// MaxEnumDimensions bounds enumerated labels, one byte per dimension.
const MaxEnumDimensions = 4

// LabelKind says what values a set's labels take.
type LabelKind string

const (
	// LabelBinary labels are 0/1 per dimension, typed as "101".
	LabelBinary LabelKind = "binary"
	// LabelEnum labels are small integers per dimension, written "3-2".
	LabelEnum LabelKind = "enum"
)

// ParseLabelKind accepts "binary" or "enum"; empty means binary.
func ParseLabelKind(s string) (LabelKind, error) {
	switch k := LabelKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return LabelBinary, nil
	case LabelBinary, LabelEnum:
		return k, nil
	}
	return "", fmt.Errorf("unknown label kind %q (want binary or enum)", s)
}

func (k LabelKind) maxDimensions() int {
	if k == LabelEnum {
		return MaxEnumDimensions
	}
	return MaxDimensions
}

// LabelVector is one ground-truth label per dimension: 0 or 1 in a binary
// set, 0..255 in an enumerated one.
type LabelVector []uint8

// Mask packs the vector into an integer, dimension i going to bit i.
func (l LabelVector) Mask() uint32 {
	var m uint32
	for i, v := range l {
		if v != 0 {
			m |= 1 << i
		}
	}
	return m
}

// Class packs an enumerated vector into an integer, dimension i going to
// bits 8i..8i+7.
func (l LabelVector) Class() uint32 {
	var c uint32
	for i, v := range l {
		c |= uint32(v) << (8 * i)
	}
	return c
}

// String renders a binary vector as "101".
func (l LabelVector) String() string {
	var b strings.Builder
	for _, v := range l {
		b.WriteByte('0' + v)
	}
	return b.String()
}

// IsTerminator reports whether s ends a labeling session.
func IsTerminator(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "done", "exit", "quit":
		return true
	}
	return false
}

// ParseLabel parses exactly dims characters of '0' or '1', first character
// first dimension. Terminators are not labels; check IsTerminator first.
func ParseLabel(s string, dims int) (LabelVector, error) {
	if dims < 1 || dims > MaxDimensions {
		return nil, fmt.Errorf("%w: %d dimensions (1..%d)", ErrDimension, dims, MaxDimensions)
	}
	s = strings.TrimSpace(s)
	if len(s) != dims {
		return nil, fmt.Errorf("%w: want %d characters of 0/1, got %q", ErrLabelFormat, dims, s)
	}
	l := make(LabelVector, dims)
	for i := 0; i < dims; i++ {
		switch s[i] {
		case '0':
		case '1':
			l[i] = 1
		default:
			return nil, fmt.Errorf("%w: want %d characters of 0/1, got %q", ErrLabelFormat, dims, s)
		}
	}
	return l, nil
}

// ParseEnumLabel parses dims decimal values 0..255 joined by "-": "3-2".
func ParseEnumLabel(s string, dims int) (LabelVector, error) {
	if dims < 1 || dims > MaxEnumDimensions {
		return nil, fmt.Errorf("%w: %d dimensions (1..%d)", ErrDimension, dims, MaxEnumDimensions)
	}
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != dims {
		return nil, fmt.Errorf("%w: want %d values joined by '-', got %q", ErrLabelFormat, dims, s)
	}
	l := make(LabelVector, dims)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not 0..255", ErrLabelFormat, p)
		}
		l[i] = uint8(v)
	}
	return l, nil
}

// FormatLabel renders l the way kind is written.
func FormatLabel(kind LabelKind, l LabelVector) string {
	if kind != LabelEnum {
		return l.String()
	}
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, "-")
}

// DecodeLabel parses a stored label of kind, inferring its width.
func DecodeLabel(kind LabelKind, s string) (LabelVector, error) {
	if kind == LabelEnum {
		return ParseEnumLabel(s, strings.Count(s, "-")+1)
	}
	return ParseLabel(s, len(s))
}
