package cmd

import (
	"fmt"
	"log"
	"strings"

	"github.com/fatih/color"
	"github.com/gocandle/canfilter"
	"github.com/spf13/cobra"
)

var header = color.New(color.FgHiWhite, color.Bold).SprintFunc()

func init() {
	compileCmd.Flags().StringP(flagTarget, "t", "", "target hardware: "+strings.Join(targetNames(), ", "))
	compileCmd.MarkFlagRequired(flagTarget)
	rootCmd.AddCommand(compileCmd)
}

func targetNames() []string {
	var out []string
	for _, info := range canfilter.List() {
		out = append(out, info.Name)
	}
	return out
}

var compileCmd = &cobra.Command{
	Use:   "compile [filters]",
	Short: "Compile filters and show the resulting image without a device",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString(flagTarget)
		debug, _ := cmd.Flags().GetBool(flagDebug)

		b, err := canfilter.NewByName(target)
		if err != nil {
			return err
		}
		if debug {
			b.SetTrace(func(line string) {
				log.Println(line)
			})
		}

		b.Begin()
		if err := canfilter.ParseStrings(b, args); err != nil {
			return fmt.Errorf("filter syntax error: %w", err)
		}
		if err := b.End(); err != nil {
			return err
		}

		fmt.Println(b.DumpFilters())
		if debug {
			fmt.Println(b.DumpRegisters())
		}
		fmt.Println(b.Usage())

		fmt.Println(header("image:"))
		dumpHex(b.Bytes())
		return nil
	},
}

func dumpHex(data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := min(off+16, len(data))
		var hexView strings.Builder
		for _, c := range data[off:end] {
			fmt.Fprintf(&hexView, "%02X ", c)
		}
		fmt.Printf("%04X: %s\n", off, strings.TrimRight(hexView.String(), " "))
	}
}
