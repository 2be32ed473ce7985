package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alfredjeanlab/meshbridge/internal/ui"
	"github.com/spf13/cobra"
)

var (
	// Unindented lines ending in ":" such as "Flags:". "Usage:" is left alone.
	reSection = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// "  serve     Run the bridge"
	reSubcommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	// MESHBRIDGE_* variable names in long descriptions.
	reEnvVar = regexp.MustCompile(`MESHBRIDGE_[A-Z_]+`)

	reDefault = regexp.MustCompile(`\(default [^)]*\)`)
)

// colorizedHelpFunc styles cobra's help text when stdout takes color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		var buf bytes.Buffer
		if cmd.Long != "" {
			fmt.Fprintln(&buf, strings.TrimSpace(cmd.Long))
			fmt.Fprintln(&buf)
		}
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	s = reSection.ReplaceAllStringFunc(s, func(m string) string {
		if strings.HasPrefix(m, "Usage:") {
			return m
		}
		return ui.Accent(strings.TrimSpace(m))
	})
	s = reSubcommand.ReplaceAllStringFunc(s, func(m string) string {
		parts := reSubcommand.FindStringSubmatch(m)
		if len(parts) != 4 || strings.HasPrefix(parts[2], "-") {
			return m
		}
		return parts[1] + ui.Accent(parts[2]) + parts[3]
	})
	s = reEnvVar.ReplaceAllStringFunc(s, ui.Muted)
	s = reDefault.ReplaceAllStringFunc(s, ui.Muted)
	return s
}
