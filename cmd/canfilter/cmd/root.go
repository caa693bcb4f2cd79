package cmd

import (
	"log"
	"os"

	"github.com/gocandle/canfilter/gsusb"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "canfilter",
	Short:        "Compile and program CAN hardware acceptance filters",
	Long: `Compiles lists of CAN IDs and ID ranges into the binary filter images
used by bxCAN and FDCAN controllers and programs them into gs_usb
compatible USB-to-CAN adapters.

Filter syntax: IDs and ranges separated by whitespace or commas,
numbers in decimal, hex (0x...) or octal (0...), ranges as A-B.

  canfilter compile -t bxcan-f0 "0x100-0x10F, 0x7E0 0x7E8"
  canfilter program -i can0 "0x600-0x7FF"`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

const (
	flagInterface = "interface"
	flagVid       = "vid"
	flagPid       = "pid"
	flagSerial    = "serial"
	flagDebug     = "debug"
	flagTarget    = "target"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagInterface, "i", "", "CAN network interface backed by the adapter (e.g. can0)")
	pf.Uint16(flagVid, 0, "USB vendor id")
	pf.Uint16(flagPid, 0, "USB product id")
	pf.String(flagSerial, "", "USB serial number")
	pf.BoolP(flagDebug, "d", false, "debug output")
}

// openDevice opens the adapter selected by the persistent flags: by
// interface name, by explicit VID/PID, or by scanning the default
// gs_usb id list.
func openDevice(cmd *cobra.Command) (*gsusb.Device, error) {
	onMessage := func(msg string) {
		log.Println(msg)
	}

	ifname, _ := cmd.Flags().GetString(flagInterface)
	vid, _ := cmd.Flags().GetUint16(flagVid)
	pid, _ := cmd.Flags().GetUint16(flagPid)
	serial, _ := cmd.Flags().GetString(flagSerial)

	if ifname != "" {
		var err error
		vid, pid, serial, err = gsusb.UsbInfoFromInterface(ifname)
		if err != nil {
			return nil, err
		}
	}

	if vid != 0 || pid != 0 {
		return gsusb.Open(&gsusb.Config{VID: vid, PID: pid, Serial: serial, OnMessage: onMessage})
	}
	return gsusb.OpenAny(onMessage)
}
