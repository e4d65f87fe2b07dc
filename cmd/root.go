package cmd

import (
	"os"

	"github.com/babelcloud/screenrelay/config"
	"github.com/babelcloud/screenrelay/internal/util"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "screenrelay",
	Short: "Relay a device's screen and audio as raw TCP feeds",
	Long: `screenrelay captures the screen (H.264) and audio (raw PCM) of an attached device and
republishes them as two plain TCP feeds: Annex-B video on --port and audio on --port+1.
Each feed serves one client at a time.`,
	Example: `  # Relay the first USB device on the default ports
  screenrelay

  # Relay a specific device with length+timestamp framing and no audio
  screenrelay -u emulator-5554 -i --no-audio`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		util.InitLogger(config.Load().Verbose)
		util.SetupGlobalLogger()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context(), config.Load())
	},
}

// Execute runs the root command with the process arguments.
func Execute() error {
	rootCmd.SetArgs(normalizeArgs(os.Args[1:]))
	return rootCmd.Execute()
}

func init() {
	v := config.Viper()

	flags := rootCmd.Flags()
	flags.StringP("udid", "u", "", "Serial of the device to relay (default: first USB device)")
	flags.IntP("port", "p", 12345, "Video port; audio is served on port+1")
	flags.BoolP("include-header", "i", false, "Prefix each video frame with a length+timestamp header")
	flags.Bool("no-audio", false, "Disable the audio feed (also accepted as -na)")
	flags.String("host", "0.0.0.0", "Address to listen on")
	flags.String("metrics-addr", "", "Expose Prometheus metrics on this address")
	flags.String("server-path", "", "Local scrcpy-server jar to push before starting")

	v.BindPFlag("device.udid", flags.Lookup("udid"))
	v.BindPFlag("relay.port", flags.Lookup("port"))
	v.BindPFlag("relay.include_header", flags.Lookup("include-header"))
	v.BindPFlag("relay.no_audio", flags.Lookup("no-audio"))
	v.BindPFlag("relay.host", flags.Lookup("host"))
	v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	v.BindPFlag("scrcpy.server_path", flags.Lookup("server-path"))

	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	v.BindPFlag("log.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(NewDevicesCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
