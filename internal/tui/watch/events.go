package watch

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/ibam-learn/enrollgw/internal/eventlog"
)

func newDecisionTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Time", Width: 8},
			{Title: "Event", Width: 20},
			{Title: "Contact", Width: 26},
			{Title: "Tag", Width: 22},
			{Title: "Outcome", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return t
}

func decisionRows(eventLog []eventlog.Event, theme Theme) []table.Row {
	rows := make([]table.Row, 0, len(eventLog))
	for _, e := range eventLog {
		rows = append(rows, table.Row{
			statusSymbol(e, theme),
			e.CreatedAt.Local().Format("15:04:05"),
			e.EventType,
			e.ContactEmail,
			e.Tag,
			outcome(e),
		})
	}
	return rows
}

func statusSymbol(e eventlog.Event, theme Theme) string {
	switch {
	case e.Error != "":
		return theme.StatusFailed.Render("∅")
	case e.AccountCreated:
		return theme.StatusCreated.Render("◉")
	case e.MatchedMembership != "" || e.MatchedCourse != "":
		return theme.StatusOK.Render("●")
	default:
		return theme.StatusSkipped.Render("○")
	}
}

func outcome(e eventlog.Event) string {
	switch {
	case e.Error != "":
		msg := e.Error
		if len(msg) > 28 {
			msg = msg[:28] + ".."
		}
		return msg
	case e.AccountCreated && e.MatchedMembership != "":
		return e.MatchedMembership + " (new)"
	case e.MatchedMembership != "":
		return e.MatchedMembership
	case e.AccountCreated && e.MatchedCourse != "":
		return e.MatchedCourse + " (new)"
	case e.MatchedCourse != "":
		return e.MatchedCourse
	default:
		return "no action"
	}
}
