package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the tinystate banner followed by the version.
func PrintBanner(w io.Writer, version string, opts ...termenv.OutputOption) {
	o := termenv.NewOutput(w, opts...)
	// Indigo to rose, one color per line.
	lines := []struct{ text, color string }{
		{" _   _            _        _       ", "#818cf8"},
		{"| |_(_)_ _ _  _ __| |_ __ _| |_ ___ ", "#a78bfa"},
		{"|  _| | ' \\ || (_-<  _/ _` |  _/ -_)", "#e879f9"},
		{" \\__|_|_||_\\_, /__/\\__\\__,_|\\__\\___|", "#f472b6"},
		{"           |__/                     ", "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, o.String(l.text).Foreground(o.Color(l.color)))
	}
	fmt.Fprintln(w, o.String("  v"+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
