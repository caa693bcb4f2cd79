package cmd

import (
	"log"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(programCmd)
}

var programCmd = &cobra.Command{
	Use:   "program [filters]",
	Short: "Compile filters for the connected adapter and program them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openDevice(cmd)
		if err != nil {
			return err
		}
		defer dev.Close()

		if err := dev.SetFilter(strings.Join(args, " ")); err != nil {
			return err
		}
		log.Println("filter programmed")
		return nil
	},
}
