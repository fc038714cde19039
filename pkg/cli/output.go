// Package cli provides output helpers for the zasr command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-yaml"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	// FormatTable renders an aligned text table (default for terminals).
	FormatTable OutputFormat = "table"
	// FormatYAML renders YAML.
	FormatYAML OutputFormat = "yaml"
	// FormatJSON renders indented JSON.
	FormatJSON OutputFormat = "json"
)

// Styles used by table rendering.
var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	DimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
)

// Output writes result to w in the requested structured format. Table
// rendering is data-specific; callers use [Table] for that instead.
func Output(w io.Writer, result any, format OutputFormat) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML, "":
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("cli: format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("cli: unsupported output format: %s", format)
	}
}

// Table writes rows as an aligned table. The first row is the header and
// is rendered dimmed.
func Table(w io.Writer, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	for n, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-len(cell)+2))
			}
		}
		line := b.String()
		if n == 0 {
			fmt.Fprintln(w, DimStyle.Render(line))
		} else {
			fmt.Fprintln(w, line)
		}
	}
}
