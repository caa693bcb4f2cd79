package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show adapter capability and filter hardware",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openDevice(cmd)
		if err != nil {
			return err
		}
		defer dev.Close()

		c, err := dev.Capability()
		if err != nil {
			return err
		}

		fmt.Println(header("capability:"))
		fmt.Printf("feature:         0x%08X\n", c.Feature)
		fmt.Printf("can clock:       %d Hz\n", c.FclkCan)
		fmt.Printf("tseg1:           %d-%d\n", c.Tseg1Min, c.Tseg1Max)
		fmt.Printf("tseg2:           %d-%d\n", c.Tseg2Min, c.Tseg2Max)
		fmt.Printf("sjw max:         %d\n", c.SjwMax)
		fmt.Printf("brp:             %d-%d step %d\n", c.BrpMin, c.BrpMax, c.BrpInc)
		fmt.Printf("hardware filter: %v\n", c.HasHardwareFilter())

		if !c.HasHardwareFilter() {
			return nil
		}

		hw, err := dev.FilterHardware()
		if err != nil {
			return err
		}
		fmt.Printf("filter hardware: %s\n", hw)
		return nil
	},
}
