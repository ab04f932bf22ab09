package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/imamik/vmaas/internal/ui/benchmarks"
)

func renderView(m Model) string {
	var b strings.Builder

	renderHeader(&b, m)
	renderProgressBar(&b, m)
	renderPhases(&b, m)

	if len(m.Resources) > 0 {
		renderResources(&b, m)
	}
	if len(m.Warnings) > 0 {
		renderWarnings(&b, m)
	}
	if len(m.Logs) > 0 {
		renderLogs(&b, m)
	}

	renderFooter(&b, m)

	return b.String()
}

func renderHeader(b *strings.Builder, m Model) {
	title := fmt.Sprintf("vmaas: %s", m.Target)
	if m.VirshURI != "" {
		title += fmt.Sprintf(" (%s)", m.VirshURI)
	}
	b.WriteString(titleStyle.Render(title))

	status := " "
	switch {
	case m.Err != nil:
		status += failedStyle.Render(fmt.Sprintf("Error: %v", m.Err))
	case m.Done:
		status += readyStyle.Render("Deployed")
	default:
		if p, ok := m.activePhase(); ok {
			status += activeStyle.Render(currentSpinner(m.SpinnerFrame)+" ") + warningStyle.Render(p.Name)
		} else {
			status += dimStyle.Render("Starting...")
		}
	}
	b.WriteString(status)
	b.WriteString("\n")
}

func renderProgressBar(b *strings.Builder, m Model) {
	progress := calculateProgress(m)
	barWidth := 40
	if m.Width > 0 && m.Width < 80 {
		barWidth = m.Width - 30
		if barWidth < 10 {
			barWidth = 10
		}
	}
	filled := int(float64(barWidth) * progress)
	if filled > barWidth {
		filled = barWidth
	}

	bar := barFilled.Render(strings.Repeat("█", filled)) +
		barEmpty.Render(strings.Repeat("░", barWidth-filled))

	pct := int(progress * 100)
	eta := ""
	if m.EstimatedRemaining > 0 {
		eta = fmt.Sprintf(" ETA %s", formatDuration(m.EstimatedRemaining))
	}
	if m.PerformanceScale != 0 && m.PerformanceScale != 1.0 {
		eta += fmt.Sprintf("  speed x%.2f", m.PerformanceScale)
	}

	fmt.Fprintf(b, "  %s %d%%%s\n", bar, pct, eta)
}

func renderPhases(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Phases"))
	b.WriteString("\n")

	for _, phase := range m.Phases {
		bg := phaseBadge(phase, m.SpinnerFrame)
		extra := ""
		switch {
		case phase.Active && phase.Total > 0:
			extra = fmt.Sprintf("%d/%d %s", phase.Current, phase.Total, miniBar(float64(phase.Current)/float64(phase.Total)))
		case phase.Active:
			extra = formatDuration(time.Since(phase.StartedAt))
		case phase.EndedAt != nil && !phase.StartedAt.IsZero():
			extra = formatDuration(phase.EndedAt.Sub(phase.StartedAt))
		}
		fmt.Fprintf(b, "    %s %-18s %s\n", bg.style.Render(bg.mark), bg.style.Render(phase.Name), dimStyle.Render(extra))
	}
}

func renderResources(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Resources"))
	b.WriteString("\n")

	for _, r := range m.Resources {
		bg := outcomeBadge(r, m.SpinnerFrame)
		detail := r.Outcome
		if r.Err != "" {
			detail = r.Err
		}
		fmt.Fprintf(b, "    %s %-12s %-20s %s\n", bg.style.Render(bg.mark), kindStyle(r.Kind).Render(r.Kind), bg.style.Render(r.Name), dimStyle.Render(detail))
	}
}

func renderWarnings(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Warnings"))
	b.WriteString("\n")

	start := 0
	if len(m.Warnings) > maxWarnings {
		start = len(m.Warnings) - maxWarnings
	}
	for _, w := range m.Warnings[start:] {
		fmt.Fprintf(b, "    %s %s\n", warningStyle.Render(warnMark), dimStyle.Render(w))
	}
}

func renderLogs(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Output"))
	b.WriteString("\n")

	for _, line := range m.Logs {
		if m.Width > 10 && len(line) > m.Width-6 {
			line = line[:m.Width-9] + "..."
		}
		fmt.Fprintf(b, "    %s\n", dimStyle.Render(line))
	}
}

func renderFooter(b *strings.Builder, m Model) {
	elapsed := formatDuration(time.Since(m.StartTime))
	parts := []string{fmt.Sprintf("elapsed: %s", elapsed)}
	if n := len(m.Resources); n > 0 {
		parts = append(parts, fmt.Sprintf("resources: %d", n))
	}
	pulse := ""
	if !m.Done && m.Err == nil {
		pulse = "  |  " + currentSpinner(m.SpinnerFrame) + " deploying"
	}
	b.WriteString(footerStyle.Render(fmt.Sprintf("  %s%s  |  q: quit", strings.Join(parts, "  |  "), pulse)))
	b.WriteString("\n")
}

// Helper functions

func outcomeBadge(r ResourceRow, frame int) badge {
	if r.Err != "" {
		return badge{crossMark, failedStyle}
	}
	if bg, ok := settled[r.Outcome]; ok {
		return bg
	}
	return badge{currentSpinner(frame), activeStyle}
}

func currentSpinner(frame int) string {
	if frame < 0 {
		frame = -frame
	}
	return spinnerFrames[frame%len(spinnerFrames)]
}

func miniBar(progress float64) string {
	const width = 10
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * width)
	return barFilled.Render(strings.Repeat("█", filled)) + barEmpty.Render(strings.Repeat("░", width-filled))
}

// calculateProgress weighs each phase by its expected duration so the
// bar does not race through the instant API phases.
func calculateProgress(m Model) float64 {
	if m.Done {
		return 1.0
	}
	if len(m.Phases) == 0 {
		return 0
	}

	var total, done float64
	for _, p := range m.Phases {
		w := phaseWeight(p.Name)
		total += w
		switch {
		case p.Done:
			done += w
		case p.Active && p.Total > 0:
			done += w * float64(p.Current) / float64(p.Total)
		}
	}

	progress := done / total
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// phaseWeight is the expected duration of a phase in seconds, at least one.
func phaseWeight(name string) float64 {
	if secs, ok := benchmarks.DefaultTimings[name]; ok && secs > 0 {
		return float64(secs)
	}
	return 1
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
