package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vadstream/internal/noise"
)

var sampleFlags struct {
	node     string
	interval time.Duration
	count    int
	seed     uint64
}

var publishSampleCmd = &cobra.Command{
	Use:   "publish-sample",
	Short: "Publish synthetic noise features as a stand-in capture node",
	Long: `Publish a random feature message to <prefix>/esp32/<node>/audio/features
and a motion flag to <prefix>/esp32/<node>/pir every --interval, so the
aggregate and decide commands can be tried without hardware.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, "sampler")
		if err != nil {
			return err
		}
		defer rt.close()

		client, err := rt.dialBus(ctx, "sampler")
		if err != nil {
			return err
		}
		defer client.Close()

		seed := sampleFlags.seed
		if !cmd.Flags().Changed("seed") {
			seed = uint64(time.Now().UnixNano())
		}
		sim := noise.NewSimulator(client, rt.cfg.MQTT.Prefix(), sampleFlags.node, seed, rt.logger)
		rt.logger.Info("publishing synthetic features",
			"topic", noise.FeaturesTopic(rt.cfg.MQTT.Prefix(), sampleFlags.node),
			"interval", sampleFlags.interval,
			"count", sampleFlags.count,
		)
		return sim.Run(ctx, sampleFlags.interval, sampleFlags.count)
	},
}

func init() {
	publishSampleCmd.Flags().StringVar(&sampleFlags.node, "node", "node1", "node id used in topics and payloads")
	publishSampleCmd.Flags().DurationVar(&sampleFlags.interval, "interval", 2*time.Second, "time between messages")
	publishSampleCmd.Flags().IntVarP(&sampleFlags.count, "count", "n", 0, "number of messages (0 publishes until interrupted)")
	publishSampleCmd.Flags().Uint64Var(&sampleFlags.seed, "seed", 0, "random seed (default: time based)")
	rootCmd.AddCommand(publishSampleCmd)
}
