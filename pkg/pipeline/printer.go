package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Printer renders stage progress and the final report as human-readable
// lines. It is the only place pipeline output is formatted; the runner itself
// stays silent so orchestration can be tested without capturing a console.
type Printer struct {
	Out io.Writer
}

// Banner writes the pipeline header before any stage runs.
func (p Printer) Banner(title string, fields map[string]string) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintf(p.Out, "%s\n%s\n%s\n", rule, title, rule)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(p.Out, "  %-12s %s\n", k+":", fields[k])
	}
	fmt.Fprintln(p.Out)
}

// Observe is wired into Run as its observer callback.
func (p Printer) Observe(ordinal, total int, res Result) {
	label := fmt.Sprintf("stage %d/%d", ordinal, total)
	if res.Succeeded {
		fmt.Fprintf(p.Out, "[ok]   %s %s", label, res.Stage)
		if res.Detail != "" {
			fmt.Fprintf(p.Out, ": %s", res.Detail)
		}
		fmt.Fprintln(p.Out)
		return
	}

	fmt.Fprintf(p.Out, "[FAIL] %s %s\n", label, res.Stage)
	if res.Failure != nil {
		fmt.Fprintf(p.Out, "       kind:  %s\n", res.Failure.Kind)
		fmt.Fprintf(p.Out, "       error: %s\n", res.Failure.Message)
		if res.Failure.Hint != "" {
			fmt.Fprintf(p.Out, "       fix:   %s\n", res.Failure.Hint)
		}
	}
}

// Summary writes the final report footer.
func (p Printer) Summary(report Report) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(p.Out, rule)
	if report.Succeeded() {
		fmt.Fprintf(p.Out, "deployment complete: all %d stages passed\n", len(report.Results))
	} else {
		fmt.Fprintf(p.Out, "deployment failed at stage %q; later stages were not run\n", report.FirstFailed)
	}
	fmt.Fprintln(p.Out, rule)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
