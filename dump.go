package canfilter

import "github.com/fatih/color"

var (
	green  = color.New(color.FgGreen).SprintfFunc()
	yellow = color.New(color.FgHiBlue).SprintfFunc()
)

func stdHex(v uint32) string {
	return green("0x%03X", v)
}

func extHex(v uint32) string {
	return yellow("0x%08X", v)
}
