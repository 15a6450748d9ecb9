package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sells-group/autoprice/internal/autonomy"
	"github.com/sells-group/autoprice/internal/enforcer"
	"github.com/sells-group/autoprice/internal/governance"
	"github.com/sells-group/autoprice/internal/model"
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseModeFlag parses a --mode flag, falling back to def when empty.
func parseModeFlag(flag, def string) (model.Mode, error) {
	if strings.TrimSpace(flag) == "" {
		flag = def
	}
	return model.ParseMode(flag)
}

// formatBatchSummary writes the counts of a process pass followed by every
// item that did not apply.
func formatBatchSummary(out io.Writer, s *enforcer.BatchSummary) {
	_, _ = fmt.Fprintf(out, "mode=%s processed=%d applied=%d rejected=%d failed=%d deferred=%d shadow=%d skipped=%d errors=%d\n",
		s.Mode, s.Processed, s.Applied, s.Rejected, s.Failed, s.Deferred, s.Shadow, s.Skipped, s.Errors)
	if len(s.Results) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECOMMENDATION\tOUTCOME\tSEGMENT\tREASON")
	for _, r := range s.Results {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(r.RecommendationID), r.Outcome, r.SegmentKey, r.Reason)
	}
	_ = w.Flush()
}

func formatPolicies(out io.Writer, policies []model.AutonomyPolicy) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEGMENT\tTIER\tSTATUS\tTHRESHOLD\tUPDATED")
	for _, p := range policies {
		threshold := "-"
		if p.Config.ConfidenceThreshold != nil {
			threshold = fmt.Sprintf("%.2f", *p.Config.ConfidenceThreshold)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			p.SegmentKey, p.Tier, p.Status, threshold, p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func formatSegmentStats(out io.Writer, s *model.SegmentStats, days int) {
	_, _ = fmt.Fprintf(out, "segment:        %s\n", s.SegmentKey)
	_, _ = fmt.Fprintf(out, "window:         %d days\n", days)
	_, _ = fmt.Fprintf(out, "decisions:      %d (applied %d, pending %d, rejected %d)\n", s.Total, s.Applied, s.Pending, s.Rejected)
	_, _ = fmt.Fprintf(out, "success rate:   %.1f%%\n", s.SuccessRate()*100)
	_, _ = fmt.Fprintf(out, "rejection rate: %.1f%%\n", s.RejectionRate()*100)
	_, _ = fmt.Fprintf(out, "avg confidence: %.3f\n", s.AvgConfidence)
}

func formatKillSwitches(out io.Writer, switches map[governance.Domain]bool) {
	domains := make([]string, 0, len(switches))
	for d := range switches {
		domains = append(domains, string(d))
	}
	sort.Strings(domains)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOMAIN\tKILL SWITCH")
	for _, d := range domains {
		state := "off"
		if switches[governance.Domain(d)] {
			state = "ON"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", d, state)
	}
	_ = w.Flush()
}

func formatTuning(out io.Writer, recs []model.TuningRecommendation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTRATEGY\tREASON\tSUGGESTED\tSTATUS\tCREATED")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), shortID(r.StrategyID), r.ReasonCode, formatAdjustment(r.Suggested), r.Status,
			r.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func formatAdjustment(a model.StrategyAdjustment) string {
	var parts []string
	if a.MaxDeltaRatio != nil {
		parts = append(parts, fmt.Sprintf("max_delta_ratio=%.4f", *a.MaxDeltaRatio))
	}
	if a.TargetMargin != nil {
		parts = append(parts, fmt.Sprintf("target_margin=%.4f", *a.TargetMargin))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func formatEvolution(out io.Writer, results []autonomy.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEGMENT\tTIER\tACTION\tREASON")
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.SegmentKey, r.Tier, r.Action, r.Reason)
	}
	_ = w.Flush()
}

// shortID truncates UUIDs for tables.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
