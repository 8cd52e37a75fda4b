package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

type align int

const (
	alignLeft align = iota
	alignRight
)

type column struct {
	header string
	width  int
	align  align
}

// table prints fixed-width box-drawn rows. Values longer than a column
// are truncated with "...".
type table struct {
	w       io.Writer
	title   string
	columns []column
}

func newTable(w io.Writer, title string) *table {
	return &table{w: w, title: title}
}

func (t *table) add(header string, width int, a align) *table {
	t.columns = append(t.columns, column{header: header, width: width, align: a})
	return t
}

func (t *table) border(left, mid, right string) {
	fmt.Fprint(t.w, left)
	for i, col := range t.columns {
		if i > 0 {
			fmt.Fprint(t.w, mid)
		}
		fmt.Fprint(t.w, strings.Repeat("─", col.width))
	}
	fmt.Fprintln(t.w, right)
}

func (t *table) header() {
	if t.title != "" {
		fmt.Fprintf(t.w, "%s:\n", t.title)
	}
	t.border("┌", "┬", "┐")
	cells := make([]interface{}, len(t.columns))
	for i, col := range t.columns {
		cells[i] = col.header
	}
	t.print(cells, true)
	t.border("├", "┼", "┤")
}

func (t *table) row(cells ...interface{}) {
	if len(cells) != len(t.columns) {
		return
	}
	t.print(cells, false)
}

func (t *table) print(cells []interface{}, header bool) {
	fmt.Fprint(t.w, "│")
	for i, col := range t.columns {
		if i > 0 {
			fmt.Fprint(t.w, "│")
		}
		value := truncate(fmt.Sprintf("%v", cells[i]), col.width-1)
		pad := strings.Repeat(" ", col.width-1-utf8.RuneCountInString(value))
		if col.align == alignRight && !header {
			fmt.Fprint(t.w, " "+pad+value)
		} else {
			fmt.Fprint(t.w, " "+value+pad)
		}
	}
	fmt.Fprintln(t.w, "│")
}

func (t *table) empty(message string) {
	total := len(t.columns) - 1
	for _, col := range t.columns {
		total += col.width
	}
	message = truncate(message, total)
	left := (total - utf8.RuneCountInString(message)) / 2
	right := total - left - utf8.RuneCountInString(message)
	fmt.Fprintf(t.w, "│%s%s%s│\n", strings.Repeat(" ", left), message, strings.Repeat(" ", right))
}

func (t *table) footer() {
	t.border("└", "┴", "┘")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}
