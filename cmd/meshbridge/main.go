package main

import (
	"os"

	"github.com/alfredjeanlab/meshbridge/internal/ui"
	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "meshbridge",
	Short: "Bridge a Meshtastic radio's traffic onto a NATS broker",
	Long: `meshbridge connects to a local Meshtastic radio, decrypts what it can with
the radio's channel keys, and republishes packets as ServiceEnvelopes on
<topic base>/<channel>/<gateway id>.

Settings come from MESHBRIDGE_* environment variables, optionally layered
over a TOML file given with --config or MESHBRIDGE_CONFIG.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.SetColor(ui.ColorEnabled(os.Stdout))
		if configPath != "" {
			return os.Setenv("MESHBRIDGE_CONFIG", configPath)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (overrides MESHBRIDGE_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetHelpFunc(colorizedHelpFunc())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
