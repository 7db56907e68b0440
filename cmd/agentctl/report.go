package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nguyenthanhtuan/agentrun/eval"
)

// writeReport renders results as a human console table, machine-readable
// JSON, or a markdown table for pasting into a PR.
func writeReport(w io.Writer, results []*eval.SuiteResult, format string, verbose bool) error {
	switch format {
	case "", "console":
		writeConsoleReport(w, results, verbose)
		return nil
	case "json":
		return json.NewEncoder(w).Encode(results)
	case "markdown":
		writeMarkdownReport(w, results)
		return nil
	default:
		return fmt.Errorf("agentctl: unknown report format %q", format)
	}
}

func writeConsoleReport(w io.Writer, results []*eval.SuiteResult, verbose bool) {
	for _, r := range results {
		fmt.Fprintf(w, "suite %s: %d/%d passed (%.1f%%), mean score %.3f, p50 %s, total tokens %d\n",
			r.SuiteName, r.PassCount, r.TotalCount, r.PassRate*100, r.MeanScore, r.LatencyP50, r.TotalTokens)
		if !verbose {
			continue
		}
		for _, cr := range r.CaseResults {
			status := "FAIL"
			if cr.Passed {
				status = "PASS"
			}
			fmt.Fprintf(w, "  [%s] %s score=%.3f %s\n", status, cr.CaseID, cr.Score, cr.Reason)
			if cr.Err != nil {
				fmt.Fprintf(w, "        error: %v\n", cr.Err)
			}
		}
	}
}

func writeMarkdownReport(w io.Writer, results []*eval.SuiteResult) {
	fmt.Fprintln(w, "| Suite | Pass | Total | Pass Rate | Mean Score | P50 | Tokens |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
	for _, r := range results {
		fmt.Fprintf(w, "| %s | %d | %d | %.1f%% | %.3f | %s | %d |\n",
			r.SuiteName, r.PassCount, r.TotalCount, r.PassRate*100, r.MeanScore, r.LatencyP50, r.TotalTokens)
	}
}

// allPassed reports whether every suite in results hit a 100% pass rate,
// the condition agentctl eval's exit code is based on.
func allPassed(results []*eval.SuiteResult) bool {
	for _, r := range results {
		if r.TotalCount > 0 && r.PassRate < 1.0 {
			return false
		}
	}
	return true
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
