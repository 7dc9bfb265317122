package commands

import (
	"fmt"

	"github.com/petems/keyservo/internal/audio"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Long: `List the PortAudio input devices. Use the ID column as audio.device_id
in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := audio.ListDevices()
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, d := range devices {
			marker := " "
			if d.Default {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-4s %s\n", marker, d.ID, d.Name)
		}
		return nil
	},
}
