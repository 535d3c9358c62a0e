// Package inference ranks memory offsets by how well they explain
// operator-labeled captures.
//
// Two modes share the scan. The bits mode tries every bit, both polarities,
// a few whole-byte predictors and an in-sample lookup table for each label
// dimension and averages the best accuracy per dimension. The LOOCV mode
// packs the label vector into a mask and scores a value->mask table by
// leave-one-out cross-validation, penalizing offsets that take too many
// distinct values.
package inference

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/vote"
)

var tracer = otel.Tracer("github.com/Ebycow/famista/internal/inference")

// Mode selects the scoring method.
type Mode string

const (
	ModeBits  Mode = "bits"
	ModeLOOCV Mode = "loocv"
)

// ParseMode accepts "bits" or "loocv".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeBits, ModeLOOCV:
		return m, nil
	}
	return "", fmt.Errorf("unknown inference mode %q (want bits or loocv)", s)
}

// Options tunes a run. The zero Options means DefaultOptions; otherwise
// every threshold is used as set.
type Options struct {
	Mode            Mode
	Threshold       float64
	Penalty         float64
	Allowance       int
	MinSamplesBits  int
	MinSamplesLOOCV int
	Workers         int
}

// DefaultOptions returns the thresholds the tool ships with.
func DefaultOptions() Options {
	return Options{
		Mode:            ModeBits,
		Threshold:       0.80,
		Penalty:         0.02,
		Allowance:       8,
		MinSamplesBits:  6,
		MinSamplesLOOCV: 12,
		Workers:         4,
	}
}

// withDefaults fills a zero Options with DefaultOptions. Any other value is
// taken as given: zero is a meaningful penalty, allowance or sample minimum.
// Only an empty Mode and a non-positive worker count are replaced.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o == (Options{}) {
		return d
	}
	if o.Mode == "" {
		o.Mode = d.Mode
	}
	if o.Workers < 1 {
		o.Workers = d.Workers
	}
	return o
}

// DimensionResult is the best hypothesis for one label dimension.
type DimensionResult struct {
	Name string
	Hypothesis
}

// Candidate is one reported offset.
type Candidate struct {
	Offset      int
	Address     channel.Address
	Bit         int // -1 unless a single bit hypothesis explains the offset
	Kind        Kind
	Score       float64
	Accuracy    float64
	Distinct    int
	Explanation string
	Dimensions  []DimensionResult
	Values      []byte // the offset's byte in every sample, in sample order
}

// WarningKind classifies a low-confidence condition.
type WarningKind string

const (
	WarnNoSamples    WarningKind = "no_samples"
	WarnInsufficient WarningKind = "insufficient_samples"
	WarnDegenerate   WarningKind = "degenerate_labels"
)

// Warning is printed ahead of the results; it never suppresses them.
type Warning struct {
	Kind    WarningKind
	Message string
}

// Report is the ranked result of one run.
type Report struct {
	Mode       Mode
	Samples    int
	Scanned    int
	Threshold  float64
	Candidates []Candidate
	Warnings   []Warning
}

// Top returns at most n candidates; n <= 0 means all.
func (r *Report) Top(n int) []Candidate {
	if n <= 0 || n >= len(r.Candidates) {
		return r.Candidates
	}
	return r.Candidates[:n]
}

// Engine scores sample sets.
type Engine struct {
	opts Options
}

// New creates an engine.
func New(opts Options) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// ErrModeLabels rejects bits mode on an enumerated set.
var ErrModeLabels = errors.New("bits mode needs binary labels")

// Run scores every offset of set. Offsets are scored in parallel; the result
// is sorted by score, then by offset, so it does not depend on scheduling.
func (e *Engine) Run(ctx context.Context, set *SampleSet) (*Report, error) {
	if e.opts.Mode == ModeBits && set.Kind() != LabelBinary {
		return nil, fmt.Errorf("inference: %w; score %s labels with loocv", ErrModeLabels, set.Kind())
	}
	samples := set.Samples()
	addrs := set.Addresses()
	dims := set.Dimensions()

	ctx, span := tracer.Start(ctx, "inference.run", trace.WithAttributes(
		attribute.String("inference.mode", string(e.opts.Mode)),
		attribute.Int("inference.samples", len(samples)),
		attribute.Int("inference.offsets", len(addrs)),
	))
	defer span.End()

	rep := &Report{
		Mode:      e.opts.Mode,
		Samples:   len(samples),
		Scanned:   len(addrs),
		Threshold: e.opts.Threshold,
		Warnings:  e.warnings(set, samples, dims),
	}
	if len(samples) == 0 {
		return rep, nil
	}

	labels := make([][]uint8, len(dims))
	for d := range dims {
		labels[d] = make([]uint8, len(samples))
		for i, smp := range samples {
			labels[d][i] = smp.Label[d]
		}
	}
	masks := make([]uint32, len(samples))
	names := make(map[uint32]string)
	for i, smp := range samples {
		masks[i] = set.Key(smp.Label)
		names[masks[i]] = set.Format(smp.Label)
	}
	name := func(k uint32) string { return fmt.Sprintf("%X", k) }
	if set.Kind() == LabelEnum {
		name = func(k uint32) string { return names[k] }
	}

	results := make([]*Candidate, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for off := range addrs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vals := make([]byte, len(samples))
			for i, smp := range samples {
				vals[i] = smp.Values[off]
			}
			var c Candidate
			if e.opts.Mode == ModeLOOCV {
				c = e.scoreLOOCV(vals, masks, name)
			} else {
				c = e.scoreBits(vals, labels, dims)
			}
			if c.Score >= e.opts.Threshold {
				c.Offset = off
				c.Address = addrs[off]
				c.Values = vals
				results[off] = &c
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("inference: %w", err)
	}

	for _, c := range results {
		if c != nil {
			rep.Candidates = append(rep.Candidates, *c)
		}
	}
	slices.SortStableFunc(rep.Candidates, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return a.Offset - b.Offset
	})
	span.SetAttributes(attribute.Int("inference.candidates", len(rep.Candidates)))
	return rep, nil
}

func (e *Engine) scoreBits(vals []byte, labels [][]uint8, dims []string) Candidate {
	c := Candidate{Bit: -1, Kind: KindMean, Distinct: distinct(vals)}
	var sum float64
	parts := make([]string, len(dims))
	for d, name := range dims {
		h := BestHypothesis(vals, labels[d])
		c.Dimensions = append(c.Dimensions, DimensionResult{Name: name, Hypothesis: h})
		sum += h.Accuracy
		parts[d] = fmt.Sprintf("%s:%.0f%%(%s)", name, h.Accuracy*100, h.Explain())
	}
	c.Accuracy = sum / float64(len(dims))
	c.Score = c.Accuracy
	c.Explanation = strings.Join(parts, " | ")
	if len(dims) == 1 {
		c.Kind = c.Dimensions[0].Kind
		c.Bit = c.Dimensions[0].Bit
	}
	return c
}

func (e *Engine) scoreLOOCV(vals []byte, masks []uint32, name func(uint32) string) Candidate {
	c := Candidate{Bit: -1, Kind: KindLOOCV, Distinct: distinct(vals)}
	c.Accuracy = LOOCVAccuracy(vals, masks)
	c.Score = Penalize(c.Accuracy, c.Distinct, e.opts.Penalty, e.opts.Allowance)
	if c.Score >= e.opts.Threshold {
		c.Explanation = summarize(vals, masks, name)
	}
	return c
}

// LabelSummary lists, for every mask in ascending order, its most common
// value and how often that value occurred: "1:02(3) 5:06(2)".
func LabelSummary(vals []byte, masks []uint32) string {
	return summarize(vals, masks, func(m uint32) string { return fmt.Sprintf("%X", m) })
}

// summarize groups vals by label class, classes in ascending order.
func summarize(vals []byte, masks []uint32, name func(uint32) string) string {
	byMask := make(map[uint32]*vote.Tally[byte])
	var order []uint32
	for i, m := range masks {
		t := byMask[m]
		if t == nil {
			t = vote.New[byte]()
			byMask[m] = t
			order = append(order, m)
		}
		t.Add(vals[i])
	}
	slices.Sort(order)
	parts := make([]string, len(order))
	for i, m := range order {
		v, n, _ := byMask[m].Winner()
		parts[i] = fmt.Sprintf("%s:%02X(%d)", name(m), v, n)
	}
	return strings.Join(parts, " ")
}

func (e *Engine) warnings(set *SampleSet, samples []Sample, dims []string) []Warning {
	if len(samples) == 0 {
		return []Warning{{Kind: WarnNoSamples, Message: "no samples captured; nothing to score"}}
	}
	var out []Warning
	need := e.opts.MinSamplesBits
	if e.opts.Mode == ModeLOOCV {
		need = e.opts.MinSamplesLOOCV
	}
	if len(samples) < need {
		out = append(out, Warning{
			Kind:    WarnInsufficient,
			Message: fmt.Sprintf("only %d samples, %d or more recommended; results are low confidence", len(samples), need),
		})
	}

	if e.opts.Mode == ModeLOOCV {
		first := set.Key(samples[0].Label)
		same := true
		for _, s := range samples[1:] {
			if set.Key(s.Label) != first {
				same = false
				break
			}
		}
		if same {
			out = append(out, Warning{
				Kind:    WarnDegenerate,
				Message: fmt.Sprintf("every sample is labeled %s; capture other states too", set.Format(samples[0].Label)),
			})
		}
		return out
	}

	for d, name := range dims {
		first := samples[0].Label[d]
		same := true
		for _, s := range samples[1:] {
			if s.Label[d] != first {
				same = false
				break
			}
		}
		if same {
			out = append(out, Warning{
				Kind:    WarnDegenerate,
				Message: fmt.Sprintf("dimension %s is always %d; its scores cannot discriminate", name, first),
			})
		}
	}
	return out
}
