// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/rebus-chat/rebus/services/cipher/alphabet"
	"github.com/rebus-chat/rebus/services/cipher/index"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess = 0 // Operation completed successfully
	CLIExitError   = 1 // Operation failed
)

// Rebus color palette - ink violets on paper
var (
	ColorInkBright  = lipgloss.Color("#8A7BFF") // Bright ink - highlights
	ColorInkPrimary = lipgloss.Color("#6C5CE7") // Primary ink - brand color
	ColorInkDeep    = lipgloss.Color("#4834D4") // Deep ink - borders, accents
	ColorSlate      = lipgloss.Color("#4A5568") // Slate - muted text

	// Semantic colors
	ColorSuccess = lipgloss.Color("#2CD7A7") // Green-teal for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorInkBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorInkPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorInkBright).Bold(true),
}

// stdoutIsTTY reports whether stdout is an interactive terminal.
func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// occupancyBarWidth is the width of a full occupancy bar.
const occupancyBarWidth = 24

// occupancyTable renders per-bucket occupancy for a mapping.
//
// On a terminal each bucket gets a styled row with a bar proportional to
// the fullest bucket. When stdout is piped the output degrades to plain
// tab-separated "symbol bucket count" rows so it stays scriptable.
func occupancyTable(m *index.KeyMapping) string {
	occ := m.Occupancy()
	total, max, empty := 0, 0, 0
	for _, n := range occ {
		total += n
		if n > max {
			max = n
		}
		if n == 0 {
			empty++
		}
	}

	var b strings.Builder
	if !stdoutIsTTY() {
		for i, n := range occ {
			fmt.Fprintf(&b, "%s\t%d\t%d\n", displaySymbol(i), i, n)
		}
		return b.String()
	}

	b.WriteString(Styles.Title.Render(fmt.Sprintf(
		"Key %s: %d images across %d buckets (%d empty)", m.Key, total, alphabet.Size, empty)))
	b.WriteString("\n")
	b.WriteString(Styles.Muted.Render("SYM  BUCKET  IMAGES"))
	b.WriteString("\n")
	for i, n := range occ {
		line := fmt.Sprintf("%-3s  %6d  %6d", displaySymbol(i), i, n)
		if n == 0 {
			b.WriteString(Styles.Muted.Render(line))
		} else {
			b.WriteString(line)
			b.WriteString("  ")
			b.WriteString(Styles.Success.Render(repeatChar('█', 1+n*(occupancyBarWidth-1)/max)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// displaySymbol names the alphabet symbol of bucket i for table output.
// The space symbol prints as "SP" so the column stays visible.
func displaySymbol(i int) string {
	if r := alphabet.Symbol(i); r != ' ' {
		return string(r)
	}
	return "SP"
}

func repeatChar(c rune, n int) string {
	if n <= 0 {
		return ""
	}
	result := make([]rune, n)
	for i := range result {
		result[i] = c
	}
	return string(result)
}

// OutputJSON writes structured data as JSON to stdout.
func OutputJSON(data any, compact bool) error {
	encoder := json.NewEncoder(os.Stdout)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// exitErr prints an error to stderr and exits with CLIExitError.
func exitErr(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", Styles.Error.Render("✗"), msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "%s %s\n", Styles.Error.Render("✗"), msg)
	}
	os.Exit(CLIExitError)
}
