// harvest/utils/color/color.go
package color

import (
	"fmt"

	"github.com/fatih/color"

	"harvest/harvest/utils/types"
)

var (
	stepColor    = color.New(color.FgCyan)
	failColor    = color.New(color.FgYellow, color.Bold)
	plannedColor = color.New(color.FgHiBlack)
	errorColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
)

// Step formats one agent step for a terminal.
func Step(ev types.StepEvent) string {
	line := fmt.Sprintf("step %d %s", ev.Step, ev.Action)
	if ev.URL != "" {
		line += " " + ev.URL
	}
	if ev.Planned {
		line = plannedColor.Sprint("(planned) ") + line
	}
	if ev.Failed {
		return failColor.Sprint(line + " failed: " + ev.Outcome)
	}
	return stepColor.Sprint(line)
}

func Error(s string) string {
	return errorColor.Sprint(s)
}

func Success(s string) string {
	return successColor.Sprint(s)
}

// Disable turns coloring off, e.g. when output is not a terminal.
func Disable() {
	color.NoColor = true
}
