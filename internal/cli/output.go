package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
)

const (
	colorPrimary = lipgloss.Color("7")
	colorMuted   = lipgloss.Color("8")
	colorSuccess = lipgloss.Color("2")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(colorSuccess)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderTable writes rows as a bordered table on a terminal and as
// tab-separated lines otherwise, so output stays scriptable.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	if !isTerminal(w) {
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		for _, r := range rows {
			fmt.Fprintln(w, strings.Join(r, "\t"))
		}
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorMuted)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

// success prints a confirmation line, highlighted on a terminal.
func success(w io.Writer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if isTerminal(w) {
		msg = okStyle.Render("✓ " + msg)
	}
	fmt.Fprintln(w, msg)
}
