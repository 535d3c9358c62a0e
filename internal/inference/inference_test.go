package inference

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

var bases = []string{"1B", "2B", "3B"}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func withMode(m Mode) Options {
	o := DefaultOptions()
	o.Mode = m
	return o
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
		mask uint32
		err  error
	}{
		{"101", "101", 5, nil},
		{" 011 ", "011", 6, nil},
		{"000", "000", 0, nil},
		{"10", "", 0, ErrLabelFormat},
		{"1010", "", 0, ErrLabelFormat},
		{"1a1", "", 0, ErrLabelFormat},
		{"", "", 0, ErrLabelFormat},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			l, err := ParseLabel(tt.in, 3)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLabel: %v", err)
			}
			if l.String() != tt.want || l.Mask() != tt.mask {
				t.Errorf("got %s mask %d, want %s mask %d", l, l.Mask(), tt.want, tt.mask)
			}
		})
	}
}

func TestIsTerminator(t *testing.T) {
	for _, s := range []string{"done", "EXIT", " quit "} {
		if !IsTerminator(s) {
			t.Errorf("IsTerminator(%q) = false", s)
		}
	}
	if IsTerminator("101") {
		t.Error("a label is not a terminator")
	}
}

func TestParseLabel_DimensionRange(t *testing.T) {
	if _, err := ParseLabel("1", 0); !errors.Is(err, ErrDimension) {
		t.Errorf("err = %v, want ErrDimension", err)
	}
}

func TestSampleSet_RejectsMismatch(t *testing.T) {
	set, err := NewSampleSet(bases, Region(0xC000, 4))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := set.Append(LabelVector{1, 0}, []byte{0, 0, 0, 0}); !errors.Is(err, ErrDimension) {
		t.Errorf("short label: err = %v", err)
	}
	if _, err := set.Append(LabelVector{1, 0, 1}, []byte{0, 0}); !errors.Is(err, ErrDimension) {
		t.Errorf("short capture: err = %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("rejected samples were stored: %d", set.Len())
	}

	s, err := set.Append(LabelVector{1, 0, 1}, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if s.ID == "" {
		t.Error("sample has no id")
	}
	if got := set.LabelCounts(); len(got) != 1 || got[0].Label != "101" || got[0].Count != 1 {
		t.Errorf("LabelCounts = %+v", got)
	}
}

func TestBitAccuracy_SingleBitExplainsLabel(t *testing.T) {
	vals := []byte{0b00000010, 0b00000011, 0b00000000, 0b00000001}
	labels := []uint8{1, 1, 0, 0}

	if got := BitAccuracy(vals, labels, 1, false); !near(got, 1.0) {
		t.Errorf("bit1 accuracy = %v, want 1.0", got)
	}
	if got := BitAccuracy(vals, labels, 1, true); !near(got, 0) {
		t.Errorf("inverted bit1 accuracy = %v, want 0", got)
	}

	h := BestHypothesis(vals, labels)
	if h.Kind != KindBit || h.Bit != 1 || !near(h.Accuracy, 1.0) {
		t.Errorf("BestHypothesis = %+v, want bit1", h)
	}
	if h.Explain() != "bit1=1" {
		t.Errorf("Explain = %q", h.Explain())
	}
}

func TestFamilyAccuracy(t *testing.T) {
	vals := []byte{0x00, 0x40, 0xFF, 0x00}
	labels := []uint8{0, 1, 1, 0}
	tests := []struct {
		kind Kind
		want float64
	}{
		{KindNonZero, 1.0},
		{KindZero, 0},
		{KindNotFF, 0.25},
		{KindFF, 0.75},
	}
	for _, tt := range tests {
		if got := FamilyAccuracy(vals, labels, tt.kind); !near(got, tt.want) {
			t.Errorf("%s accuracy = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestLookupAccuracy_Overfits(t *testing.T) {
	vals := []byte{7, 9, 7, 3}
	labels := []uint8{1, 0, 1, 0}
	if got := LookupAccuracy(vals, labels); !near(got, 1.0) {
		t.Errorf("lookup = %v, want 1.0", got)
	}
	// value 7 is labeled 1 then 0: first to reach the top count wins.
	if got := LookupAccuracy([]byte{7, 7}, []uint8{1, 0}); !near(got, 0.5) {
		t.Errorf("tied lookup = %v, want 0.5", got)
	}
}

func TestLOOCV_Separable(t *testing.T) {
	vals := []byte{0x11, 0x11, 0x25, 0x25, 0x37, 0x37}
	masks := []uint32{0, 0, 5, 5, 7, 7}
	if got := LOOCVAccuracy(vals, masks); !near(got, 1.0) {
		t.Errorf("LOOCV = %v, want 1.0", got)
	}
}

func TestLOOCV_ConstantByte(t *testing.T) {
	vals := []byte{0x10, 0x10, 0x10, 0x10, 0x10, 0x10}
	masks := []uint32{0, 0, 0, 0, 1, 1}
	if got := LOOCVAccuracy(vals, masks); !near(got, 4.0/6.0) {
		t.Errorf("LOOCV = %v, want %v", got, 4.0/6.0)
	}
}

func TestLOOCV_UnseenFallsBackToMajority(t *testing.T) {
	// Every value is unique, so each prediction is the majority mask of the
	// other samples, which is always 0.
	vals := []byte{1, 2, 3, 4, 5}
	masks := []uint32{0, 0, 0, 0, 1}
	if got := LOOCVAccuracy(vals, masks); !near(got, 0.8) {
		t.Errorf("LOOCV = %v, want 0.8", got)
	}
}

func TestPenalize(t *testing.T) {
	tests := []struct {
		acc      float64
		distinct int
		want     float64
	}{
		{1.0, 3, 1.0},
		{1.0, 8, 1.0},
		{1.0, 10, 0.96},
		{0.9, 20, 0.66},
	}
	for _, tt := range tests {
		if got := Penalize(tt.acc, tt.distinct, 0.02, 8); !near(got, tt.want) {
			t.Errorf("Penalize(%v, %d) = %v, want %v", tt.acc, tt.distinct, got, tt.want)
		}
	}
}

func TestLabelSummary(t *testing.T) {
	vals := []byte{0x20, 0x10, 0x20, 0x10, 0x11}
	masks := []uint32{5, 0, 5, 0, 0}
	if got, want := LabelSummary(vals, masks), "0:10(2) 5:20(2)"; got != want {
		t.Errorf("LabelSummary = %q, want %q", got, want)
	}
}

// eightStates builds one sample per base mask 000..111. Offset 0 is
// constant, offset 1 packs the bases into bits 0..2, offset 2 is a
// free-running counter and offset 3 inverts bit 4 for 2B only.
func eightStates(t *testing.T) *SampleSet {
	t.Helper()
	set, err := NewSampleSet(bases, Region(0xC000, 4))
	if err != nil {
		t.Fatal(err)
	}
	for m := 0; m < 8; m++ {
		l := LabelVector{uint8(m & 1), uint8(m >> 1 & 1), uint8(m >> 2 & 1)}
		var b3 byte
		if l[1] == 0 {
			b3 = 0x10
		}
		vals := []byte{0x42, byte(m), byte(0x80 + m*3), b3}
		if _, err := set.Append(l, vals); err != nil {
			t.Fatal(err)
		}
	}
	return set
}

func TestRun_Bits(t *testing.T) {
	set := eightStates(t)
	rep, err := New(withMode(ModeBits)).Run(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Candidates) < 2 {
		t.Fatalf("candidates = %+v", rep.Candidates)
	}

	first := rep.Candidates[0]
	if first.Address != 0xC001 || !near(first.Score, 1.0) {
		t.Fatalf("top candidate = %04X %.3f, want C001 1.0", uint32(first.Address), first.Score)
	}
	want := "1B:100%(bit0=1) | 2B:100%(bit1=1) | 3B:100%(bit2=1)"
	if first.Explanation != want {
		t.Errorf("explanation = %q, want %q", first.Explanation, want)
	}

	// The counter is explained perfectly by the in-sample lookup.
	second := rep.Candidates[1]
	if second.Address != 0xC002 || !near(second.Score, 1.0) {
		t.Errorf("second candidate = %04X %.3f, want C002 1.0", uint32(second.Address), second.Score)
	}
	for _, c := range rep.Candidates {
		if c.Address == 0xC000 {
			t.Errorf("constant offset reported with score %.3f", c.Score)
		}
	}
	for _, w := range rep.Warnings {
		if w.Kind == WarnDegenerate {
			t.Errorf("unexpected warning %+v", w)
		}
	}
}

func TestRun_LOOCVRejectsCounter(t *testing.T) {
	set := eightStates(t)
	rep, err := New(withMode(ModeLOOCV)).Run(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range rep.Candidates {
		if c.Address == 0xC002 {
			t.Errorf("counter offset passed LOOCV with %.3f", c.Score)
		}
	}
	if len(rep.Warnings) == 0 || rep.Warnings[0].Kind != WarnInsufficient {
		t.Errorf("warnings = %+v, want insufficient_samples", rep.Warnings)
	}
}

func TestRun_DeterministicAcrossWorkers(t *testing.T) {
	set := eightStates(t)
	var lines []string
	for _, w := range []int{1, 2, 8} {
		opts := withMode(ModeBits)
		opts.Threshold = 0.5
		opts.Workers = w
		rep, err := New(opts).Run(context.Background(), set)
		if err != nil {
			t.Fatal(err)
		}
		var b strings.Builder
		for _, c := range rep.Candidates {
			b.WriteString(c.Address.String())
			b.WriteByte(' ')
		}
		lines = append(lines, b.String())
	}
	for i := 1; i < len(lines); i++ {
		if lines[i] != lines[0] {
			t.Errorf("order differs across worker counts: %q vs %q", lines[0], lines[i])
		}
	}
}

func TestRun_Warnings(t *testing.T) {
	set, _ := NewSampleSet(bases, Region(0xC000, 2))
	set.Append(LabelVector{1, 0, 0}, []byte{1, 0})
	set.Append(LabelVector{1, 1, 0}, []byte{3, 0})

	rep, err := New(withMode(ModeBits)).Run(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[WarningKind]int{}
	for _, w := range rep.Warnings {
		kinds[w.Kind]++
	}
	if kinds[WarnInsufficient] != 1 {
		t.Errorf("insufficient warnings = %d, want 1", kinds[WarnInsufficient])
	}
	// 1B is always 1 and 3B always 0.
	if kinds[WarnDegenerate] != 2 {
		t.Errorf("degenerate warnings = %d, want 2", kinds[WarnDegenerate])
	}
	if len(rep.Candidates) == 0 {
		t.Error("warnings must not suppress results")
	}

	rep, _ = New(withMode(ModeLOOCV)).Run(context.Background(), set)
	for _, w := range rep.Warnings {
		if w.Kind == WarnDegenerate {
			t.Errorf("two distinct masks flagged as degenerate: %+v", w)
		}
	}
}

func TestOptions_ZeroMeansDefaults(t *testing.T) {
	if got := New(Options{}).Options(); got != DefaultOptions() {
		t.Errorf("New(Options{}) = %+v, want defaults", got)
	}
	got := New(Options{Mode: ModeLOOCV, Threshold: 0.5}).Options()
	if got.Penalty != 0 || got.Allowance != 0 || got.MinSamplesLOOCV != 0 {
		t.Errorf("explicit zero thresholds replaced: %+v", got)
	}
	if got.Workers != DefaultOptions().Workers {
		t.Errorf("workers = %d, want default", got.Workers)
	}
}

func TestRun_ZeroPenaltyScoresRawAccuracy(t *testing.T) {
	set, _ := NewSampleSet(bases, Region(0xC000, 1))
	for m := 0; m < 6; m++ {
		l := LabelVector{uint8(m & 1), uint8(m >> 1 & 1), uint8(m >> 2 & 1)}
		for range 2 {
			if _, err := set.Append(l, []byte{byte(0x10 + m)}); err != nil {
				t.Fatal(err)
			}
		}
	}

	opts := withMode(ModeLOOCV)
	opts.Threshold = 0.5
	opts.Allowance = 0
	opts.Penalty = 0
	rep, err := New(opts).Run(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Candidates) != 1 || !near(rep.Candidates[0].Score, rep.Candidates[0].Accuracy) || !near(rep.Candidates[0].Score, 1.0) {
		t.Fatalf("candidates = %+v, want score == accuracy == 1.0", rep.Candidates)
	}

	opts.Penalty = 0.02
	rep, _ = New(opts).Run(context.Background(), set)
	if len(rep.Candidates) != 1 || !near(rep.Candidates[0].Score, 1.0-6*0.02) {
		t.Errorf("penalized candidates = %+v, want score 0.88", rep.Candidates)
	}
}

func TestRun_Empty(t *testing.T) {
	set, _ := NewSampleSet(bases, Region(0xC000, 2))
	rep, err := New(DefaultOptions()).Run(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Candidates) != 0 || len(rep.Warnings) != 1 || rep.Warnings[0].Kind != WarnNoSamples {
		t.Errorf("report = %+v", rep)
	}
}
