package cli

import (
	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/grovetools/airlock/tui/theme"
)

// RenderTable renders rows under headers with the shared theme. Headers are
// styled up front; StyleFunc only sees data rows.
func RenderTable(headers []string, rows [][]string) string {
	t := theme.DefaultTheme

	styled := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = t.TableHeader.Render(h)
	}

	table := ltable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(t.TableBorder).
		Headers(styled...).
		StyleFunc(func(row, col int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, r := range rows {
		table = table.Row(r...)
	}
	return table.String()
}
