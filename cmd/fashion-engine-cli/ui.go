// Package main provides UI utilities for the fashion engine CLI.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI provides user-friendly output utilities.
type UI struct {
	out      io.Writer
	errOut   io.Writer
	progress *mpb.Progress
	noColor  bool
	jsonMode bool
}

func newUI(out, errOut io.Writer, jsonMode, noColor bool) *UI {
	return &UI{
		out:      out,
		errOut:   errOut,
		noColor:  noColor,
		jsonMode: jsonMode,
	}
}

// Close waits for any progress bars to finish.
func (ui *UI) Close() {
	if ui.progress == nil {
		return
	}
	// When piped, bars never render and Wait may hang.
	if IsTerminal() {
		ui.progress.Wait()
	} else {
		ui.progress.Shutdown()
	}
}

func (ui *UI) print(w io.Writer, attr color.Attribute, symbol, format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf("%s %s\n", symbol, fmt.Sprintf(format, args...))
	if ui.noColor {
		fmt.Fprint(w, msg)
		return
	}
	color.New(attr).Fprint(w, msg)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	ui.print(ui.out, color.FgGreen, "✓", format, args...)
}

// Error prints an error message.
func (ui *UI) Error(format string, args ...interface{}) {
	ui.print(ui.errOut, color.FgRed, "✗", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	ui.print(ui.out, color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	ui.print(ui.out, color.FgCyan, "ℹ", format, args...)
}

// Step prints a step message.
func (ui *UI) Step(format string, args ...interface{}) {
	ui.print(ui.out, color.FgBlue, "→", format, args...)
}

// ProgressBar adds a counting bar for one source. It returns nil in JSON
// mode.
func (ui *UI) ProgressBar(name string, total int64) *mpb.Bar {
	if ui.jsonMode {
		return nil
	}
	if ui.progress == nil {
		ui.progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(ui.errOut))
	}

	return ui.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12}),
		),
	)
}

// Spinner starts an indeterminate spinner on stderr. Stop it with the
// returned func. In JSON mode it does nothing.
func (ui *UI) Spinner(message string) func() {
	if ui.jsonMode || !IsTerminal() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = ui.errOut
	s.Start()
	return s.Stop
}

// Table prints a formatted table.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len([]rune(header))
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	h, v, c := "─", "│", []string{"┌", "┬", "┐", "├", "┼", "┤", "└", "┴", "┘"}
	if ui.noColor {
		h, v, c = "-", "|", []string{"+", "+", "+", "+", "+", "+", "+", "+", "+"}
	}
	border := func(left, mid, right string) {
		var b strings.Builder
		b.WriteString(left)
		for i, w := range widths {
			b.WriteString(strings.Repeat(h, w+2))
			if i < len(widths)-1 {
				b.WriteString(mid)
			}
		}
		b.WriteString(right)
		ui.frame(b.String())
	}
	line := func(cells []string, header bool) {
		var b strings.Builder
		b.WriteString(v)
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := widths[i] - len([]rune(cell))
			b.WriteString(" " + cell + strings.Repeat(" ", pad) + " ")
			b.WriteString(v)
		}
		if header {
			ui.frame(b.String())
		} else {
			fmt.Fprintln(ui.out, b.String())
		}
	}

	border(c[0], c[1], c[2])
	line(headers, true)
	border(c[3], c[4], c[5])
	for _, row := range rows {
		line(row, false)
	}
	border(c[6], c[7], c[8])
}

func (ui *UI) frame(s string) {
	if ui.noColor {
		fmt.Fprintln(ui.out, s)
		return
	}
	color.New(color.FgCyan, color.Bold).Fprintln(ui.out, s)
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	header := fmt.Sprintf("━━━ %s ━━━", strings.ToUpper(title))
	if ui.noColor {
		fmt.Fprintln(ui.out, header)
	} else {
		color.New(color.FgMagenta, color.Bold).Fprintln(ui.out, header)
	}
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Fprintf(ui.out, "  %s: %v\n", key, value)
	} else {
		color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
		fmt.Fprintf(ui.out, "%v\n", value)
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// FormatPrice formats a price with two decimals.
func FormatPrice(p float64) string {
	return fmt.Sprintf("%.2f", p)
}

// Truncate shortens s to n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
