package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	noteColor    = color.New(color.FgBlue)
)

// printer writes the human-readable panels commands print.
type printer struct {
	w io.Writer
}

func (p printer) Title(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	titleColor.Fprintln(p.w, msg)
	titleColor.Fprintln(p.w, strings.Repeat("=", len(msg)))
}

func (p printer) Success(format string, args ...any) {
	successColor.Fprintf(p.w, "[OK] "+format+"\n", args...)
}

func (p printer) Warning(format string, args ...any) {
	warnColor.Fprintf(p.w, "[WARNING] "+format+"\n", args...)
}

func (p printer) Error(format string, args ...any) {
	errorColor.Fprintf(p.w, "[ERROR] "+format+"\n", args...)
}

func (p printer) Note(format string, args ...any) {
	noteColor.Fprintf(p.w, " ! "+format+"\n", args...)
}

func (p printer) Text(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Table prints rows under header, aligned in columns.
func (p printer) Table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	seps := make([]string, len(header))
	for i, h := range header {
		seps[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(seps, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	tw.Flush()
}

// PrintError writes err as an error panel. main calls it before exiting.
func PrintError(w io.Writer, err error) {
	printer{w: w}.Error("%v", err)
}

func formatInt[T ~int | ~int64](v T) string {
	return strconv.FormatInt(int64(v), 10)
}

func formatIntPtr[T ~int | ~int64](v *T) string {
	if v == nil {
		return "-"
	}
	return formatInt(*v)
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func formatFloatPtr(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return formatFloat(*v, prec)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinInts(vs []int) string {
	if len(vs) == 0 {
		return "all"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
