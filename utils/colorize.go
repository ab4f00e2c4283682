package utils

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var noColorize atomic.Bool

func init() {
	noColorize.Store(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))
}

// SetColorize toggles colorized pretty printing for the whole process.
func SetColorize(on bool) {
	noColorize.Store(!on)
	color.NoColor = !on
}

// Colorized reports whether pretty printers should emit color codes.
func Colorized() bool {
	return !noColorize.Load()
}

// CanColorize wraps a colorizing function such that it falls back to plain
// concatenation when colorization is disabled.
func CanColorize(col func(...interface{}) string) func(...interface{}) string {
	return func(is ...interface{}) string {
		if noColorize.Load() {
			return fmt.Sprintf(strings.Repeat("%v", len(is)), is...)
		}
		return col(is...)
	}
}

// Colorize is the palette shared by the pretty printers.
var Colorize = struct {
	Node     func(...interface{}) string
	Edge     func(...interface{}) string
	State    func(...interface{}) string
	Const    func(...interface{}) string
	Key      func(...interface{}) string
	Holds    func(...interface{}) string
	Violated func(...interface{}) string
	Unknown  func(...interface{}) string
}{
	Node:     CanColorize(color.New(color.FgHiBlue).SprintFunc()),
	Edge:     CanColorize(color.New(color.FgMagenta).SprintFunc()),
	State:    CanColorize(color.New(color.FgCyan).SprintFunc()),
	Const:    CanColorize(color.New(color.FgHiWhite).SprintFunc()),
	Key:      CanColorize(color.New(color.FgYellow).SprintFunc()),
	Holds:    CanColorize(color.New(color.FgGreen, color.Bold).SprintFunc()),
	Violated: CanColorize(color.New(color.FgRed, color.Bold).SprintFunc()),
	Unknown:  CanColorize(color.New(color.FgHiYellow, color.Bold).SprintFunc()),
}

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*m")

// StripColor removes color codes, e.g. from labels of exported graphs.
func StripColor(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
