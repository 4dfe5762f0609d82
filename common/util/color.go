package util

import (
	"github.com/fatih/color"
)

// CLI output is colored even when stderr is not a terminal
func paint(attribute color.Attribute, s string) string {
	painter := color.New(attribute)
	painter.EnableColor()
	return painter.Sprint(s)
}

func Cyan(s string) string {
	return paint(color.FgHiCyan, s)
}

func Green(s string) string {
	return paint(color.FgHiGreen, s)
}

func Yellow(s string) string {
	return paint(color.FgHiYellow, s)
}

func Red(s string) string {
	return paint(color.FgHiRed, s)
}
