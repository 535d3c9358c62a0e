package inference

import (
	"fmt"

	"github.com/Ebycow/famista/internal/vote"
)

// Kind names a hypothesis family.
type Kind string

const (
	KindBit         Kind = "bit"
	KindBitInverted Kind = "bit-inverted"
	KindNonZero     Kind = "!=0"
	KindNotFF       Kind = "!=FF"
	KindZero        Kind = "==0"
	KindFF          Kind = "==FF"
	KindLookup      Kind = "lookup"
	KindLOOCV       Kind = "loocv"
	KindMean        Kind = "mean"
)

var nonZeroFamily = []Kind{KindNonZero, KindNotFF, KindZero, KindFF}

// Hypothesis is one predictor scored against one label dimension.
// Bit is -1 for predictors that look at the whole byte.
type Hypothesis struct {
	Kind     Kind
	Bit      int
	Accuracy float64
}

// Explain renders the predictor the way the report prints it.
func (h Hypothesis) Explain() string {
	switch h.Kind {
	case KindBit:
		return fmt.Sprintf("bit%d=1", h.Bit)
	case KindBitInverted:
		return fmt.Sprintf("bit%d=0(invert)", h.Bit)
	case KindLookup:
		return "value->label lookup"
	default:
		return string(h.Kind)
	}
}

// BitAccuracy is the fraction of samples whose bit (optionally inverted)
// equals the label.
func BitAccuracy(vals []byte, labels []uint8, bit int, invert bool) float64 {
	return accuracy(vals, labels, func(v byte) uint8 {
		p := (v >> bit) & 1
		if invert {
			p ^= 1
		}
		return p
	})
}

// FamilyAccuracy scores one of the whole-byte predictors.
func FamilyAccuracy(vals []byte, labels []uint8, kind Kind) float64 {
	return accuracy(vals, labels, func(v byte) uint8 {
		var hit bool
		switch kind {
		case KindNonZero:
			hit = v != 0
		case KindNotFF:
			hit = v != 0xFF
		case KindZero:
			hit = v == 0
		case KindFF:
			hit = v == 0xFF
		}
		if hit {
			return 1
		}
		return 0
	})
}

// LookupAccuracy assigns every distinct value its majority label and scores
// that table on the same samples. It overfits by construction and only
// surfaces candidates.
func LookupAccuracy(vals []byte, labels []uint8) float64 {
	byValue := make(map[byte]*vote.Tally[uint8])
	for i, v := range vals {
		t := byValue[v]
		if t == nil {
			t = vote.New[uint8]()
			byValue[v] = t
		}
		t.Add(labels[i])
	}
	table := make(map[byte]uint8, len(byValue))
	for v, t := range byValue {
		table[v], _, _ = t.Winner()
	}
	return accuracy(vals, labels, func(v byte) uint8 { return table[v] })
}

// BestHypothesis evaluates every predictor for one dimension and keeps the
// first one with the strictly highest accuracy, in the order: bits 0..7
// (plain, then inverted), the non-zero family, the lookup table.
func BestHypothesis(vals []byte, labels []uint8) Hypothesis {
	best := Hypothesis{Kind: KindBit, Bit: 0, Accuracy: -1}
	consider := func(h Hypothesis) {
		if h.Accuracy > best.Accuracy {
			best = h
		}
	}
	for bit := 0; bit < 8; bit++ {
		consider(Hypothesis{Kind: KindBit, Bit: bit, Accuracy: BitAccuracy(vals, labels, bit, false)})
		consider(Hypothesis{Kind: KindBitInverted, Bit: bit, Accuracy: BitAccuracy(vals, labels, bit, true)})
	}
	for _, k := range nonZeroFamily {
		consider(Hypothesis{Kind: k, Bit: -1, Accuracy: FamilyAccuracy(vals, labels, k)})
	}
	consider(Hypothesis{Kind: KindLookup, Bit: -1, Accuracy: LookupAccuracy(vals, labels)})
	return best
}

// LOOCVAccuracy scores a value->mask table by leave-one-out: each sample is
// predicted from a majority table built over all the others. A value the
// others never showed is predicted as their overall majority mask.
func LOOCVAccuracy(vals []byte, masks []uint32) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < n; i++ {
		byValue := vote.New[uint32]()
		overall := vote.New[uint32]()
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			overall.Add(masks[j])
			if vals[j] == vals[i] {
				byValue.Add(masks[j])
			}
		}
		pred, _, seen := byValue.Winner()
		if !seen {
			pred, _, _ = overall.Winner()
		}
		if pred == masks[i] {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// Penalize subtracts penalty for every distinct value beyond allowance.
func Penalize(acc float64, distinct int, penalty float64, allowance int) float64 {
	return acc - penalty*float64(max(0, distinct-allowance))
}

func accuracy(vals []byte, labels []uint8, predict func(byte) uint8) float64 {
	if len(vals) == 0 {
		return 0
	}
	ok := 0
	for i, v := range vals {
		if predict(v) == labels[i] {
			ok++
		}
	}
	return float64(ok) / float64(len(vals))
}

func distinct(vals []byte) int {
	var seen [256]bool
	n := 0
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			n++
		}
	}
	return n
}
