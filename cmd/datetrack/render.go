package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/config"
	"github.com/hylla/datetrack/internal/domain"
	"github.com/mattn/go-isatty"
)

// markdownWrapWidth bounds rendered stats tables.
const markdownWrapWidth = 100

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// paint renders s in a hex foreground color on terminals only.
func paint(w io.Writer, color, s string) string {
	if color == "" || !isTerminal(w) {
		return s
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(s)
}

// renderHistory prints one line per record, coloring group names.
func renderHistory(w io.Writer, cfg config.Config, records []domain.ChangeRecord) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "no changes recorded")
		return
	}
	for _, r := range records {
		group := paint(w, cfg.GroupColor(r.Group), fmt.Sprintf("%-4s", r.Group))
		_, _ = fmt.Fprintf(w, "%s  %s  %-10s  row %-18d %-14s %s",
			r.DetectedAt.Format(domain.TimestampLayout), group, r.Date.String(), r.RowID, cfg.PhaseLabel(r.Phase), r.DateField)
		if r.User != "" {
			_, _ = fmt.Fprintf(w, "  by %s", r.User)
		}
		if r.Marketplace != "" {
			_, _ = fmt.Fprintf(w, "  [%s]", r.Marketplace)
		}
		_, _ = fmt.Fprintln(w)
	}
}

// statsMarkdown formats stats as a markdown report.
func statsMarkdown(cfg config.Config, stats app.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Changes %s\n\n", stats.Period.Label)
	fmt.Fprintf(&b, "%s to %s: **%d** changes by **%d** users in **%d** groups.\n",
		stats.Period.From, stats.Period.To, stats.Total, stats.ActiveUsers, stats.ActiveGroups)
	writeCountTable(&b, "Users", stats.ByUser, nil)
	writeCountTable(&b, "Groups", stats.ByGroup, nil)
	writeCountTable(&b, "Phases", stats.ByPhase, func(key string) string {
		var phase int
		if _, err := fmt.Sscanf(key, "Phase %d", &phase); err == nil {
			return cfg.PhaseLabel(phase)
		}
		return key
	})
	writeCountTable(&b, "Marketplaces", stats.ByMarketplace, nil)
	return b.String()
}

// writeCountTable appends one markdown table of tallies.
func writeCountTable(b *strings.Builder, title string, counts []app.Count, label func(string) string) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n| %s | Changes |\n|---|---:|\n", title, strings.TrimSuffix(title, "s"))
	for _, c := range counts {
		key := c.Key
		if label != nil {
			key = label(key)
		}
		fmt.Fprintf(b, "| %s | %d |\n", key, c.Count)
	}
}

// renderStats prints the stats report, styled through glamour on terminals.
func renderStats(w io.Writer, cfg config.Config, stats app.Stats) error {
	markdown := statsMarkdown(cfg, stats)
	if !isTerminal(w) {
		_, err := io.WriteString(w, markdown)
		return err
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(markdownWrapWidth),
	)
	if err != nil {
		_, writeErr := io.WriteString(w, markdown)
		return writeErr
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		_, writeErr := io.WriteString(w, markdown)
		return writeErr
	}
	_, err = io.WriteString(w, rendered)
	return err
}

// statusColors maps check and aggregate outcomes to terminal colors.
var statusColors = map[string]string{
	string(app.CheckPassed):     "#2A9D8F",
	string(app.CheckWarning):    "#E9C46A",
	string(app.CheckFailed):     "#E63946",
	string(app.CheckSkipped):    "#8D99AE",
	string(app.HealthHealthy):   "#2A9D8F",
	string(app.HealthDegraded):  "#E9C46A",
	string(app.HealthUnhealthy): "#E63946",
}

// renderHealth prints one line per check and the aggregate status.
func renderHealth(w io.Writer, report app.HealthReport) {
	status := string(report.Status)
	_, _ = fmt.Fprintf(w, "overall: %s\n", paint(w, statusColors[status], strings.ToUpper(status)))
	for _, check := range report.Checks {
		label := fmt.Sprintf("%-8s", check.Status)
		_, _ = fmt.Fprintf(w, "  %s %-15s %s\n", paint(w, statusColors[string(check.Status)], label), check.Name, check.Message)
	}
}
