package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/replica/pkg/client"
)

// renderAppHeader renders the title line with the synchronized roots.
// live reports whether the event stream is connected.
func renderAppHeader(st *client.Status, live bool, width int) string {
	appName := titleStyle.Render("REPLICA")
	header := " ⇄ " + appName

	if st != nil {
		roots := pathStyle.Render(truncatePath(st.Source, 30)) +
			mutedTextStyle.Render(" → ") +
			pathStyle.Render(truncatePath(st.Replica, 30))
		header += "  " + roots
		if st.DryRun {
			header += warningTextStyle.Render("  DRY RUN")
		}
	}

	indicator := mutedTextStyle.Render("○ OFFLINE")
	if live {
		indicator = successTextStyle.Render("● LIVE")
	}

	return padRight(header, width-lipgloss.Width(indicator)-1) + " " + indicator
}

// renderPassLine renders the pass counters and the last or running pass.
// spin is the spinner frame shown while a pass runs.
func renderPassLine(st *client.Status, now time.Time, spin string) string {
	if st == nil {
		return mutedTextStyle.Render("  connecting to daemon...")
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("%s passes", humanize.Comma(int64(st.Passes))))
	if st.FailedPasses > 0 {
		parts = append(parts, errorTextStyle.Render(fmt.Sprintf("%d failed", st.FailedPasses)))
	}

	if p := st.LastPass; p != nil {
		last := fmt.Sprintf("last %s, %d actions",
			humanize.RelTime(p.Finished, now, "ago", "from now"),
			p.Stats.Actions())
		if p.Failed() {
			last = errorTextStyle.Render(last + ", failed")
		}
		parts = append(parts, last)
	}

	switch {
	case st.Running:
		parts = append(parts, spin+" pass in progress")
	case !st.NextPass.IsZero():
		next := max(st.NextPass.Sub(now), 0).Round(time.Second)
		parts = append(parts, fmt.Sprintf("next in %s", next))
	}

	return "  " + strings.Join(parts, mutedTextStyle.Render("  •  "))
}
