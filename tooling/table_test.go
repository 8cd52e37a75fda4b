package main

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_RowsHaveEqualWidth(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, "Orders").
		add("Order ID", 12, alignLeft).
		add("Amount", 8, alignRight)

	tbl.header()
	tbl.row("0190a1b2-c3d4-7e5f", 21000)
	tbl.row("short", 5)
	tbl.footer()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "Orders:", lines[0])

	width := utf8.RuneCountInString(lines[1])
	for _, l := range lines[1:] {
		assert.Equal(t, width, utf8.RuneCountInString(l), l)
	}
	assert.Contains(t, lines[4], "0190a1b2...")
	assert.Contains(t, lines[4], "   21000│")
}

func TestTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, "").add("A", 10, alignLeft).add("B", 10, alignLeft)
	tbl.header()
	tbl.empty("nothing here")
	tbl.footer()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, utf8.RuneCountInString(lines[0]), utf8.RuneCountInString(lines[3]))
	assert.Contains(t, lines[3], "nothing here")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "ab", truncate("abcdefgh", 2))
}
