package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

var (
	quietMode atomic.Bool
	colorMode atomic.Bool

	// Output is where the Print helpers write
	Output io.Writer = os.Stdout
)

func init() {
	colorMode.Store(IsTerminal(os.Stdout))
}

// SetQuietMode suppresses everything except errors
func SetQuietMode(quiet bool) {
	quietMode.Store(quiet)
}

// IsQuietMode reports whether quiet mode is on
func IsQuietMode() bool {
	return quietMode.Load()
}

// SetColorMode turns ANSI colors on or off
func SetColorMode(enabled bool) {
	colorMode.Store(enabled)
}

// IsTerminal reports whether w is a terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
// while color mode is on
func colorize(colorString string) func(string) string {
	return func(text string) string {
		if !colorMode.Load() {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// PrintError prints an error message in red. Errors are printed even in
// quiet mode.
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Output, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Output, Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintln(Output, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintf(Output, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if IsQuietMode() {
		return
	}
	if len(args) > 0 {
		fmt.Fprintln(Output, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Output, Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintln(Output, Magenta(msg))
}
