// Package printer renders the drover CLI's terminal output: plain rows for
// tables, green confirmations, and red error blocks with recovery hints.
package printer

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func init() {
	// Color stays on when piped; NO_COLOR disables it.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed, color.Bold)
)

// Success prints a green confirmation with a checkmark prefix.
func Success(format string, a ...any) {
	green.Printf("✓ %s", fmt.Sprintf(format, a...))
}

// Error prints an error block to stderr - red title, explanation, and
// optional recovery suggestions - and returns a plain error carrying the
// title for cobra to turn into the exit status.
func Error(title, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	fmt.Fprintf(os.Stderr, "%s\n", explanation)

	if len(suggestions) > 0 {
		fmt.Fprintln(os.Stderr)
		for _, suggestion := range suggestions {
			fmt.Fprintf(os.Stderr, "  - %s\n", suggestion)
		}
	}

	return fmt.Errorf("%s", title)
}

// Println prints a plain line.
func Println(a ...any) {
	fmt.Println(a...)
}

// Printf prints plain formatted output, used for table rows.
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}
