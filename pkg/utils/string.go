package utils

import "github.com/charmbracelet/x/ansi"

// Truncate shortens s to at most maxLen display cells, ending in "..." when
// cut. ANSI escape sequences are preserved and not counted.
func Truncate(s string, maxLen int) string {
	return ansi.Truncate(s, maxLen, "...")
}
