package console

import "github.com/fatih/color"

// Color funcs for operator output.
var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Faint  = color.New(color.Faint).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
)

// NoColor disables colored output, e.g. when stdout is redirected to a file.
func NoColor() {
	color.NoColor = true
}
