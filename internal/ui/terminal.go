package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ColorEnabled reports whether output to f should be styled. NO_COLOR wins,
// then CLICOLOR_FORCE=1, then CLICOLOR=0, then whether f is a terminal.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return f != nil && term.IsTerminal(int(f.Fd()))
}
