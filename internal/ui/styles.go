// Package ui styles the meshbridge CLI's terminal output.
package ui

import "fmt"

// 256-color palette indexes.
const (
	colorAccent = 74  // blue: headers, channel names
	colorMuted  = 245 // gray: timestamps, secondary detail
	colorWarn   = 173 // orange: encrypted or rejected traffic
)

var plain bool

func paint(color int, s string) string {
	if plain || s == "" {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// Accent styles headings and names.
func Accent(s string) string { return paint(colorAccent, s) }

// Muted styles secondary detail.
func Muted(s string) string { return paint(colorMuted, s) }

// Warn styles things the reader should notice.
func Warn(s string) string { return paint(colorWarn, s) }

// SetColor turns styling on or off for the whole process.
func SetColor(on bool) { plain = !on }
