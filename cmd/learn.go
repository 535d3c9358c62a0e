package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/config"
	"github.com/Ebycow/famista/internal/gate"
	"github.com/Ebycow/famista/internal/inference"
	"github.com/Ebycow/famista/internal/sampler"
	"github.com/Ebycow/famista/internal/store"
)

func learnCmd() *cobra.Command {
	var (
		mode    string
		labels  string
		onEdge  bool
		addrs   string
		dims    string
		session string
		replay  string
		top     int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Label captured states and infer which addresses encode them",
		Long: "learn captures memory each time you enter a label such as \"101\"\n" +
			"(one 0/1 digit per dimension), then ranks the addresses whose values\n" +
			"best explain the labels. Enter \"done\" to finish, \"analyze\" to score\n" +
			"the samples captured so far.\n\n" +
			"With --labels score the labels are the game score instead: enter\n" +
			"\"h\" when the home side scores, \"a\" for the away side, \"u\" to undo\n" +
			"the last mark and \"s\" to save the current score again. Every key\n" +
			"captures at the next settled scoreboard and the samples are scored\n" +
			"in loocv mode.",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			if top <= 0 {
				top = cfg.Inference.TopN
			}
			out := reportOptions{Top: top, JSON: asJSON}

			var err error
			if replay != "" {
				err = runReplay(cfg, mode, replay, out)
			} else {
				opts := learnOptions{
					OnEdge:  onEdge,
					Addrs:   addrs,
					Dims:    splitDims(dims),
					Session: session,
				}
				if opts.Labels, err = parseLabels(labels); err == nil {
					if opts.Labels == inference.LabelEnum {
						opts.Dims = inference.ScoreDimensions
						opts.OnEdge = true
					}
					err = runLearn(cfg, mode, opts, out)
				}
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "inference mode: bits or loocv (prompted when empty)")
	cmd.Flags().StringVar(&labels, "labels", "binary", "label source: binary (typed 0/1 vectors) or score (h/a/u/s marks)")
	cmd.Flags().BoolVar(&onEdge, "on-edge", false, "capture at the next gate rising edge instead of immediately")
	cmd.Flags().StringVar(&addrs, "addrs", "", "capture only these addresses (comma separated hex)")
	cmd.Flags().StringVar(&dims, "dims", "1B,2B,3B", "label dimension names (comma separated)")
	cmd.Flags().StringVar(&session, "session", "", "session name for stored samples")
	cmd.Flags().StringVar(&replay, "replay", "", "score a stored session (id or name) instead of capturing")
	cmd.Flags().IntVar(&top, "top", 0, "report at most N candidates (default inference.top_n)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

type learnOptions struct {
	Labels  inference.LabelKind
	OnEdge  bool
	Addrs   string
	Dims    []string
	Session string
}

func splitDims(s string) []string {
	var out []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// parseLabels maps the --labels flag to the kind of label it produces.
func parseLabels(s string) (inference.LabelKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "binary":
		return inference.LabelBinary, nil
	case "score":
		return inference.LabelEnum, nil
	}
	return "", fmt.Errorf("unknown --labels %q (want binary or score)", s)
}

// resolveMode parses flag, or asks when it is empty. Without a terminal
// the prompt fails and bits mode is used. Enumerated labels only score in
// loocv mode, so nothing is asked for them.
func resolveMode(flag string, kind inference.LabelKind) (inference.Mode, error) {
	if kind == inference.LabelEnum {
		if flag == "" {
			return inference.ModeLOOCV, nil
		}
		m, err := inference.ParseMode(flag)
		if err != nil {
			return "", err
		}
		if m != inference.ModeLOOCV {
			return "", fmt.Errorf("%w; score labels need --mode loocv", inference.ErrModeLabels)
		}
		return m, nil
	}
	if flag != "" {
		return inference.ParseMode(flag)
	}
	m, err := promptSelect("Inference mode", []SelectOption[inference.Mode]{
		{Label: "bits  - per-bit accuracy for each dimension", Value: inference.ModeBits},
		{Label: "loocv - leave-one-out over the combined label", Value: inference.ModeLOOCV},
	}, 0)
	if err != nil {
		slog.Debug("mode prompt unavailable, using bits", "error", err)
		return inference.ModeBits, nil
	}
	return m, nil
}

func runReplay(cfg *config.Config, modeFlag string, ref string, out reportOptions) error {
	st := mustOpenStore(cfg)
	if st == nil {
		return errors.New("store.path is empty; nothing to replay")
	}
	defer st.Close()

	ctx, stop := signalContext()
	defer stop()

	sess, set, err := store.Replay(ctx, st, ref)
	if err != nil {
		return fmt.Errorf("replay %s: %w", ref, err)
	}
	mode, err := resolveMode(modeFlag, set.Kind())
	if err != nil {
		return err
	}
	slog.Info("replaying session", "session", sess.Name, "id", sess.ID, "labels", set.Kind(), "samples", set.Len())
	rep, err := inference.New(cfg.Inference.Options(mode)).Run(ctx, set)
	if err != nil {
		return err
	}
	return writeReport(os.Stdout, rep, out)
}

func runLearn(cfg *config.Config, modeFlag string, opts learnOptions, out reportOptions) error {
	mode, err := resolveMode(modeFlag, opts.Labels)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	shutdownTelemetry := initTelemetry(ctx, cfg)
	defer shutdownTelemetry()

	smp, closeCh := mustOpenSampler(cfg)
	defer closeCh()

	capture, addrs, err := captureFunc(cfg, smp, opts.Addrs)
	if err != nil {
		return err
	}
	set, err := inference.NewSampleSetOf(opts.Labels, opts.Dims, addrs)
	if err != nil {
		return err
	}

	ls := &labelSession{
		in:      os.Stdin,
		out:     os.Stdout,
		set:     set,
		capture: capture,
		analyze: func(ctx context.Context) error {
			rep, err := inference.New(cfg.Inference.Options(mode)).Run(ctx, set)
			if err != nil {
				return err
			}
			return writeReport(os.Stdout, rep, out)
		},
	}
	if opts.OnEdge {
		ls.waitEdge = edgeWaiter(mustDetector(cfg), smp, cfg.Poll.Interval())
	}

	if st := mustOpenStore(cfg); st != nil {
		defer st.Close()
		sess, err := st.CreateSession(ctx, opts.Session, opts.Labels, opts.Dims, addrs)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Session %s (%s)\n", sess.Name, sess.ID)
		ls.record = func(ctx context.Context, s inference.Sample) error {
			return st.AppendSample(ctx, sess.ID, s)
		}
	}

	fmt.Fprintf(os.Stderr, "Dimensions: %s. Capturing %d addresses, mode %s.\n", strings.Join(opts.Dims, ","), len(addrs), mode)
	if opts.Labels == inference.LabelEnum {
		ls.parse = scoreKeys(inference.NewScoreMarks(0, 0))
		fmt.Fprintln(os.Stderr, "Score starts 0-0. Enter h (home run), a (away run), u (undo), s (save), \"analyze\", or \"done\".")
		fmt.Fprintln(os.Stderr)
	} else {
		fmt.Fprintf(os.Stderr, "Enter a label (e.g. %s), \"analyze\", or \"done\".\n\n", strings.Repeat("0", len(opts.Dims)))
	}
	if err := ls.run(ctx); err != nil {
		return err
	}
	if set.Len() == 0 {
		fmt.Println("No samples captured.")
		return nil
	}

	ok, err := promptConfirm(fmt.Sprintf("Analyze %d samples?", set.Len()), labelSummary(set), true)
	if err != nil {
		// No terminal for the prompt: analyze anyway.
		ok = true
	}
	if !ok {
		return nil
	}
	return ls.analyze(ctx)
}

// captureFunc selects the capture strategy: the configured region, or the
// addresses listed in addrList.
func captureFunc(cfg *config.Config, smp *sampler.Sampler, addrList string) (func(context.Context) ([]byte, error), []channel.Address, error) {
	if strings.TrimSpace(addrList) != "" {
		addrs, err := config.ParseAddressList(addrList)
		if err != nil {
			return nil, nil, err
		}
		return func(ctx context.Context) ([]byte, error) {
			return smp.CaptureStable(ctx, addrs, cfg.Capture.Repetitions, cfg.Capture.Gap())
		}, addrs, nil
	}

	base, err := cfg.CaptureBase()
	if err != nil {
		return nil, nil, err
	}
	c := cfg.Capture
	return func(ctx context.Context) ([]byte, error) {
		return smp.CaptureRegionStable(ctx, base, c.Length, c.Repetitions, c.Gap(), cfg.CaptureChunk())
	}, inference.Region(base, c.Length), nil
}

// edgeWaiter blocks until the detector reports a settled rising edge.
func edgeWaiter(det *gate.Detector, r gate.Reader, interval time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		for {
			if det.Poll(ctx, r).Edge {
				return nil
			}
			if err := sampler.Sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
}

// scoreKeys turns the score keys into labels: h and a add a run, u takes
// the last mark back and s repeats the current score.
func scoreKeys(m *inference.ScoreMarks) func(string) (inference.LabelVector, error) {
	return func(input string) (inference.LabelVector, error) {
		switch strings.ToLower(input) {
		case "h":
			return m.Home(), nil
		case "a":
			return m.Away(), nil
		case "s":
			return m.Current(), nil
		case "u":
			l, ok := m.Undo()
			if !ok {
				return nil, errors.New("nothing to undo")
			}
			return l, nil
		}
		return nil, fmt.Errorf("%w: want h, a, u or s, got %q", inference.ErrLabelFormat, input)
	}
}

// labelSession is the labeling REPL. Each accepted label triggers one
// capture; bad input is reported and the prompt continues. parse defaults
// to typed binary labels. parse, waitEdge and record may be nil.
type labelSession struct {
	in       io.Reader
	out      io.Writer
	set      *inference.SampleSet
	parse    func(input string) (inference.LabelVector, error)
	capture  func(ctx context.Context) ([]byte, error)
	waitEdge func(ctx context.Context) error
	record   func(ctx context.Context, s inference.Sample) error
	analyze  func(ctx context.Context) error
}

func (ls *labelSession) run(ctx context.Context) error {
	dims := len(ls.set.Dimensions())
	parse := ls.parse
	if parse == nil {
		parse = func(input string) (inference.LabelVector, error) {
			return inference.ParseLabel(input, dims)
		}
	}
	scanner := bufio.NewScanner(ls.in)
	for {
		fmt.Fprint(ls.out, "label> ")
		if !scanner.Scan() {
			fmt.Fprintln(ls.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case inference.IsTerminator(input):
			return nil
		case input == "analyze":
			if err := ls.analyze(ctx); err != nil {
				fmt.Fprintf(ls.out, "analysis failed: %s\n", err)
			}
			continue
		case input == "counts":
			ls.printCounts()
			continue
		}

		label, err := parse(input)
		if err != nil {
			fmt.Fprintf(ls.out, "%s\n", err)
			continue
		}
		if err := ls.captureOne(ctx, label); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(ls.out, "capture failed: %s\n", err)
		}
	}
}

func (ls *labelSession) captureOne(ctx context.Context, label inference.LabelVector) error {
	if ls.waitEdge != nil {
		fmt.Fprintln(ls.out, "waiting for the next settled scoreboard...")
		if err := ls.waitEdge(ctx); err != nil {
			return err
		}
	}
	values, err := ls.capture(ctx)
	if err != nil {
		return err
	}
	s, err := ls.set.Append(label, values)
	if err != nil {
		return err
	}
	if ls.record != nil {
		if err := ls.record(ctx, s); err != nil {
			slog.Warn("sample not stored", "id", s.ID, "error", err)
		}
	}
	fmt.Fprintf(ls.out, "captured #%d label=%s\n", ls.set.Len(), ls.set.Format(label))
	return nil
}

// labelSummary is "000 x4, 101 x2" in first-seen order.
func labelSummary(set *inference.SampleSet) string {
	counts := set.LabelCounts()
	parts := make([]string, len(counts))
	for i, lc := range counts {
		parts[i] = fmt.Sprintf("%s x%d", lc.Label, lc.Count)
	}
	return strings.Join(parts, ", ")
}

func (ls *labelSession) printCounts() {
	for _, lc := range ls.set.LabelCounts() {
		fmt.Fprintf(ls.out, "  %s  %d\n", lc.Label, lc.Count)
	}
}
