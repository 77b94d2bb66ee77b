// Package ui provides terminal output helpers for discover.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"discover/pkg/resource"
)

var (
	// Colors for different message types
	Success = color.New(color.FgGreen, color.Bold)
	Error   = color.New(color.FgRed, color.Bold)
	Warning = color.New(color.FgYellow, color.Bold)
	Info    = color.New(color.FgCyan)
	Header  = color.New(color.FgMagenta, color.Bold)
	Muted   = color.New(color.FgHiBlack)

	// Colors for specific elements
	ResourceName    = color.New(color.FgWhite, color.Bold)
	ResourceVersion = color.New(color.FgGreen)
	BackendName     = color.New(color.FgCyan)
	Installed       = color.New(color.FgGreen)
	Upgradeable     = color.New(color.FgYellow)
	Busy            = color.New(color.FgBlue)
)

// Out receives the messages below. Tests point it at a buffer.
var Out io.Writer = os.Stdout

// UseColors represents whether colors should be used.
var UseColors = true

// UseUnicode represents whether unicode symbols should be used.
var UseUnicode = true

// Symbols for status indicators
var (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "!"
	SymbolInfo    = "→"
	SymbolPending = "○"
	SymbolUpgrade = "↑"
)

// Init initializes the UI settings based on configuration.
func Init(useColors, useUnicode bool) {
	UseColors = useColors
	UseUnicode = useUnicode

	color.NoColor = !useColors || os.Getenv("NO_COLOR") != ""

	if !useUnicode {
		SymbolSuccess = "[OK]"
		SymbolError = "[ERROR]"
		SymbolWarning = "[WARN]"
		SymbolInfo = "->"
		SymbolPending = "[ ]"
		SymbolUpgrade = "^"
	}
}

// SuccessMsg prints a success message.
func SuccessMsg(format string, args ...any) {
	Success.Fprintf(Out, SymbolSuccess+" "+format+"\n", args...)
}

// ErrorMsg prints an error message to stderr.
func ErrorMsg(format string, args ...any) {
	Error.Fprintf(os.Stderr, SymbolError+" "+format+"\n", args...)
}

// WarningMsg prints a warning message.
func WarningMsg(format string, args ...any) {
	Warning.Fprintf(Out, SymbolWarning+" "+format+"\n", args...)
}

// InfoMsg prints an info message.
func InfoMsg(format string, args ...any) {
	Info.Fprintf(Out, SymbolInfo+" "+format+"\n", args...)
}

// HeaderMsg prints a header message.
func HeaderMsg(format string, args ...any) {
	Header.Fprintf(Out, "\n"+format+"\n", args...)
}

// MutedMsg prints a muted (dim) message.
func MutedMsg(format string, args ...any) {
	Muted.Fprintf(Out, format+"\n", args...)
}

// Println prints a plain line with formatting.
func Println(format string, args ...any) {
	fmt.Fprintf(Out, format+"\n", args...)
}

// Bold returns a bold string.
func Bold(s string) string {
	return color.New(color.Bold).Sprint(s)
}

// Cyan returns a cyan string.
func Cyan(s string) string {
	return color.CyanString(s)
}

// StateLabel renders a resource state in its colour. Unknown states render plain.
func StateLabel(state string) string {
	switch state {
	case resource.StateInstalled.String():
		return Installed.Sprint(state)
	case resource.StateUpgradeAvailable.String():
		return Upgradeable.Sprint(SymbolUpgrade + " " + state)
	case resource.StateInstalling.String(), resource.StateRemoving.String():
		return Busy.Sprint(state)
	case resource.StateNone.String():
		return Muted.Sprint("available")
	}
	return state
}
