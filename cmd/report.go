package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Ebycow/famista/internal/inference"
)

type reportOptions struct {
	Top  int
	JSON bool
}

type candidateJSON struct {
	Rank        int     `json:"rank"`
	Address     string  `json:"address"`
	Offset      int     `json:"offset"`
	Kind        string  `json:"kind"`
	Bit         int     `json:"bit"`
	Score       float64 `json:"score"`
	Accuracy    float64 `json:"accuracy"`
	Distinct    int     `json:"distinct"`
	Explanation string  `json:"explanation,omitempty"`
}

type warningJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type reportJSON struct {
	Mode       string          `json:"mode"`
	Samples    int             `json:"samples"`
	Scanned    int             `json:"scanned"`
	Threshold  float64         `json:"threshold"`
	Accepted   int             `json:"accepted"`
	Warnings   []warningJSON   `json:"warnings,omitempty"`
	Candidates []candidateJSON `json:"candidates"`
}

// writeReport prints warnings first, then the ranked candidates.
func writeReport(w io.Writer, rep *inference.Report, opts reportOptions) error {
	top := rep.Top(opts.Top)
	if opts.JSON {
		out := reportJSON{
			Mode:       string(rep.Mode),
			Samples:    rep.Samples,
			Scanned:    rep.Scanned,
			Threshold:  rep.Threshold,
			Accepted:   len(rep.Candidates),
			Candidates: make([]candidateJSON, 0, len(top)),
		}
		for _, wn := range rep.Warnings {
			out.Warnings = append(out.Warnings, warningJSON{Kind: string(wn.Kind), Message: wn.Message})
		}
		for i, c := range top {
			out.Candidates = append(out.Candidates, candidateJSON{
				Rank:        i + 1,
				Address:     c.Address.String(),
				Offset:      c.Offset,
				Kind:        string(c.Kind),
				Bit:         c.Bit,
				Score:       c.Score,
				Accuracy:    c.Accuracy,
				Distinct:    c.Distinct,
				Explanation: c.Explanation,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, wn := range rep.Warnings {
		fmt.Fprintf(w, "WARNING (%s): %s\n", wn.Kind, wn.Message)
	}
	fmt.Fprintf(w, "mode=%s samples=%d scanned=%d threshold=%.2f accepted=%d\n",
		rep.Mode, rep.Samples, rep.Scanned, rep.Threshold, len(rep.Candidates))
	if len(top) == 0 {
		fmt.Fprintln(w, "No candidates above threshold.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tADDR\tSCORE\tACC\tDISTINCT\tEXPLANATION")
	for i, c := range top {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.3f\t%d\t%s\n",
			i+1, c.Address, c.Score, c.Accuracy, c.Distinct, c.Explanation)
	}
	return tw.Flush()
}
