package inference

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ebycow/famista/internal/channel"
)

// Sample is one labeled capture. Values[i] is the byte at Addresses()[i].
type Sample struct {
	ID     string
	Label  LabelVector
	Values []byte
	At     time.Time
}

// SampleSet is the append-only sample list of one learning session.
// It is safe for concurrent use.
type SampleSet struct {
	mu      sync.RWMutex
	kind    LabelKind
	dims    []string
	addrs   []channel.Address
	samples []Sample
}

// NewSampleSet creates an empty binary-labeled set. dims names the label
// dimensions in order; addrs gives the address of every capture offset.
func NewSampleSet(dims []string, addrs []channel.Address) (*SampleSet, error) {
	return NewSampleSetOf(LabelBinary, dims, addrs)
}

// NewSampleSetOf creates an empty set whose labels are of kind.
func NewSampleSetOf(kind LabelKind, dims []string, addrs []channel.Address) (*SampleSet, error) {
	kind, err := ParseLabelKind(string(kind))
	if err != nil {
		return nil, err
	}
	if limit := kind.maxDimensions(); len(dims) < 1 || len(dims) > limit {
		return nil, fmt.Errorf("%w: %d dimensions (1..%d)", ErrDimension, len(dims), limit)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: empty capture", ErrDimension)
	}
	return &SampleSet{
		kind:  kind,
		dims:  append([]string(nil), dims...),
		addrs: append([]channel.Address(nil), addrs...),
	}, nil
}

// Region lists the addresses of [base, base+length).
func Region(base channel.Address, length int) []channel.Address {
	out := make([]channel.Address, length)
	for i := range out {
		out[i] = base + channel.Address(i)
	}
	return out
}

// Append labels a fresh capture and adds it to the set.
func (s *SampleSet) Append(label LabelVector, values []byte) (Sample, error) {
	smp := Sample{
		ID:     uuid.Must(uuid.NewV7()).String(),
		Label:  append(LabelVector(nil), label...),
		Values: append([]byte(nil), values...),
		At:     time.Now().UTC(),
	}
	if err := s.Add(smp); err != nil {
		return Sample{}, err
	}
	return smp, nil
}

// Add appends an existing sample, e.g. one loaded from the store.
func (s *SampleSet) Add(smp Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(smp.Label) != len(s.dims) {
		return fmt.Errorf("%w: label has %d dimensions, set has %d", ErrDimension, len(smp.Label), len(s.dims))
	}
	if s.kind == LabelBinary {
		for _, v := range smp.Label {
			if v > 1 {
				return fmt.Errorf("%w: binary label %v has value %d", ErrLabelFormat, []uint8(smp.Label), v)
			}
		}
	}
	if len(smp.Values) != len(s.addrs) {
		return fmt.Errorf("%w: capture has %d bytes, set has %d", ErrDimension, len(smp.Values), len(s.addrs))
	}
	s.samples = append(s.samples, smp)
	return nil
}

// Len returns the number of samples.
func (s *SampleSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Kind returns the label kind.
func (s *SampleSet) Kind() LabelKind { return s.kind }

// Key is the integer label class of l: the bit mask for binary sets, the
// packed values for enumerated ones.
func (s *SampleSet) Key(l LabelVector) uint32 {
	if s.kind == LabelEnum {
		return l.Class()
	}
	return l.Mask()
}

// Format renders l as the operator writes it for this set.
func (s *SampleSet) Format(l LabelVector) string {
	return FormatLabel(s.kind, l)
}

// Dimensions returns the dimension names.
func (s *SampleSet) Dimensions() []string {
	return append([]string(nil), s.dims...)
}

// Addresses returns the address of every offset.
func (s *SampleSet) Addresses() []channel.Address {
	return append([]channel.Address(nil), s.addrs...)
}

// Samples returns the samples in insertion order. The slice is a copy; the
// samples themselves are never modified.
func (s *SampleSet) Samples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Sample(nil), s.samples...)
}

// LabelCount is how often one label vector occurs.
type LabelCount struct {
	Label string
	Count int
}

// LabelCounts counts label vectors in first-seen order.
func (s *SampleSet) LabelCounts() []LabelCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := make(map[string]int)
	var out []LabelCount
	for _, smp := range s.samples {
		k := FormatLabel(s.kind, smp.Label)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, LabelCount{Label: k})
		}
		out[i].Count++
	}
	return out
}
