package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/rshade/mktcache/internal/engine/cache"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
)

const tabPadding = 2

// headerColor returns the Lip Gloss color of table headers.
func headerColor() lipgloss.Color { return lipgloss.Color("39") }

// borderColor returns the Lip Gloss color of table borders.
func borderColor() lipgloss.Color { return lipgloss.Color("240") }

// okColor, warnColor and failColor color cell states.
func okColor() lipgloss.Color   { return lipgloss.Color("42") }
func warnColor() lipgloss.Color { return lipgloss.Color("214") }
func failColor() lipgloss.Color { return lipgloss.Color("196") }

// isWriterTerminal reports whether w is a terminal.
func isWriterTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isTerminal(f)
	}
	return false
}

// table is a header plus rows of cells, rendered styled on a terminal and
// tab-aligned otherwise.
type table struct {
	headers []string
	rows    [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer) error {
	if isWriterTerminal(w) {
		return t.renderStyled(w)
	}
	return t.renderPlain(w)
}

func (t *table) renderPlain(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.headers, "\t"))
	for _, row := range t.rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func (t *table) renderStyled(w io.Writer) error {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(headerColor())
	cellStyle := lipgloss.NewStyle().PaddingRight(tabPadding)

	var content strings.Builder
	for i, h := range t.headers {
		content.WriteString(cellStyle.Width(widths[i] + tabPadding).Render(headerStyle.Render(h)))
	}
	for _, row := range t.rows {
		content.WriteString("\n")
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			content.WriteString(cellStyle.Width(widths[i] + tabPadding).Render(styleCell(cell)))
		}
	}

	box := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(borderColor()).
		Padding(0, 1)

	_, err := fmt.Fprintln(w, box.Render(content.String()))
	return err
}

// styleCell colors the well-known state words.
func styleCell(cell string) string {
	switch cell {
	case "yes", "fresh", string(cache.SourceRemote), "open":
		return lipgloss.NewStyle().Foreground(okColor()).Render(cell)
	case "stale", "debounced", "closed":
		return lipgloss.NewStyle().Foreground(warnColor()).Render(cell)
	case string(cache.SourceFailed), "error":
		return lipgloss.NewStyle().Foreground(failColor()).Render(cell)
	default:
		return cell
	}
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// validateOutput rejects unknown --output values.
func validateOutput(format string) error {
	switch format {
	case outputTable, outputJSON:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (use %s or %s)", format, outputTable, outputJSON)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
