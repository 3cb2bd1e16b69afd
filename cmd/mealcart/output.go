package main

import (
	"fmt"
	"io"
	"os"
)

// console renders progress narration for interactive commands. Everything
// goes through its writer (stderr by default) so stdout stays clean for
// --json output and piping.
type console struct {
	w io.Writer
}

var ui = console{w: os.Stderr}

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// paint wraps text in an ANSI code unless --no-color is set.
func paint(code, text string) string {
	if noColor {
		return text
	}
	return code + text + ansiReset
}

func (c console) successf(format string, args ...any) {
	c.line(ansiGreen, "✓", format, args...)
}

func (c console) errorf(format string, args ...any) {
	c.line(ansiRed, "✗", format, args...)
}

func (c console) warnf(format string, args ...any) {
	c.line(ansiYellow, "⚠", format, args...)
}

func (c console) stepf(format string, args ...any) {
	c.line(ansiCyan, "→", format, args...)
}

func (c console) line(code, glyph, format string, args ...any) {
	fmt.Fprintln(c.w, paint(code, glyph+" "+fmt.Sprintf(format, args...)))
}

// field prints an indented "Label: value" row for status-style output.
func (c console) field(label, format string, args ...any) {
	fmt.Fprintf(c.w, "  %s %s\n", paint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
