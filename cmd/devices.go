package cmd

import (
	"fmt"

	"github.com/babelcloud/screenrelay/config"
	"github.com/babelcloud/screenrelay/internal/device"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls"},
		Short:   "List devices attached to the local adb server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := device.NewManager(config.Load().AdbPort)
			if err != nil {
				return err
			}
			infos, err := manager.List()
			if err != nil {
				return err
			}
			printDevices(infos)
			return nil
		},
	}
}

func printDevices(infos []device.Info) {
	if len(infos) == 0 {
		color.New(color.Faint).Println("No devices found. Make sure USB debugging is enabled on your device.")
		return
	}

	selected := false
	for i, info := range infos {
		typeColor := color.New(color.Faint)
		marker := ""
		if info.IsUSB() {
			typeColor = color.New(color.FgGreen)
			if !selected {
				marker = color.New(color.FgYellow).Sprint(" (default)")
				selected = true
			}
		}
		fmt.Printf("%d. %s %s [%s]%s\n",
			i+1,
			color.New(color.FgCyan).Sprint(info.Serial),
			info.Model,
			typeColor.Sprint(info.ConnectionType),
			marker,
		)
	}
}
