package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
)

var (
	// Header - black on bright cyan
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// likeStats returns the average and maximum like count of records.
func likeStats(records []*record.Record) (avg float64, maxLikes int64) {
	if len(records) == 0 {
		return 0, 0
	}
	var sum float64
	for _, r := range records {
		sum += float64(r.LikedCount)
		maxLikes = max(maxLikes, r.LikedCount)
	}
	return record.Round2(sum / float64(len(records))), maxLikes
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func stateBadge(s ingest.State) string {
	if s == ingest.TargetReached {
		return okStyle.Render("✓ " + s.String())
	}
	return warnStyle.Render("! " + s.String())
}

// renderSummary formats a finished search or replay run.
func renderSummary(o *outcome) string {
	res := o.Result
	lines := []string{
		headerStyle.Render("feedcurate") + " " + dimStyle.Render(o.Session.ID),
		"",
		row("keyword", o.Session.Keyword),
		labelStyle.Render("state") + stateBadge(res.State),
		row("attempts", fmt.Sprintf("%d (%d pages)", res.Attempts, res.Pages)),
		row("collected", fmt.Sprintf("%d", len(res.Records))),
		row("rejected", fmt.Sprintf("%d", res.Tally.Total())),
	}
	if o.Selected {
		lines = append(lines, row("selected", fmt.Sprintf("%d", len(o.Records))))
	}
	if len(o.Records) > 0 {
		avg, maxLikes := likeStats(o.Records)
		lines = append(lines, row("likes", fmt.Sprintf("avg %.2f, max %d", avg, maxLikes)))
	}
	if explain := res.Explain(); explain != "" {
		lines = append(lines, "", warnStyle.Render(explain))
	} else if res.Tally.Total() > 0 {
		lines = append(lines, dimStyle.Render(res.Tally.Explain()))
	}

	lines = append(lines, "", row("notes", o.NotesPath), row("report", o.ReportPath))
	switch {
	case o.HandoffErr != nil:
		lines = append(lines, labelStyle.Render("hand-off")+warnStyle.Render("failed: "+o.HandoffErr.Error()))
	case o.HandedOff != "":
		lines = append(lines, row("hand-off", string(o.HandedOff)))
	}
	return containerStyle.Render(strings.Join(lines, "\n"))
}

func printSummary(w io.Writer, o *outcome) {
	fmt.Fprintln(w, renderSummary(o))
}

// renderCurateSummary formats the result of the curate command.
func renderCurateSummary(o *curateOutcome) string {
	lines := []string{
		headerStyle.Render("feedcurate curate"),
		"",
		row("loaded", fmt.Sprintf("%d", o.Loaded)),
		row("filtered", fmt.Sprintf("%d", o.Filtered)),
	}
	if o.Selected {
		lines = append(lines, row("selected", fmt.Sprintf("%d", len(o.Records))))
	} else {
		lines = append(lines, labelStyle.Render("selected")+dimStyle.Render("skipped, pool below trigger"))
	}
	if len(o.Records) > 0 {
		avg, maxLikes := likeStats(o.Records)
		lines = append(lines, row("likes", fmt.Sprintf("avg %.2f, max %d", avg, maxLikes)))
	}
	lines = append(lines, "", row("output", o.Path))
	return containerStyle.Render(strings.Join(lines, "\n"))
}

func printCurateSummary(w io.Writer, o *curateOutcome) {
	fmt.Fprintln(w, renderCurateSummary(o))
}
