// Package ui holds the small formatting helpers shared by the console
// screens.
package ui

import (
	"fmt"
	"io"
	"strings"
)

const (
	Width       = 60
	DetailWidth = 80
)

// Rule prints a heavy separator line.
func Rule(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("━", Width))
}

// Line prints a light separator of the given width.
func Line(w io.Writer, width int) {
	fmt.Fprintln(w, strings.Repeat("-", width))
}

// Header prints a title framed by separators.
func Header(w io.Writer, title string) {
	fmt.Fprintln(w)
	Rule(w)
	if title != "" {
		fmt.Fprintln(w, title)
	}
	Rule(w)
}

// Plural returns "1 email" or "n emails".
func Plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
