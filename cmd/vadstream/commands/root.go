// Package commands implements the vadstream command tree.
package commands

import (
	"context"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X ...commands.version=".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vadstream",
	Short: "Streaming voice activity detection for classroom audio",
	Long: `vadstream reads 16-bit PCM from a serial device, a TCP or WebSocket
client, or a WAV file, classifies it frame by frame and publishes speech
transitions, segments and session summaries over MQTT.

Configuration is read from a YAML file. Without --config the environment
variables MQTT_BROKER, MQTT_PORT, ROOM_ID, DEVICE_ID, LOG_LEVEL and
AGGREGATION_WINDOW_SEC are used on top of the built-in defaults.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
}

// Execute runs the command tree with ctx as the root context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
