package commands

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vadstream/internal/noise"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Maintain the rolling noise profile from device features",
	Long: `Subscribe to <prefix>/esp32/+/audio/features and publish the mean,
minimum and maximum rms_db over the trailing aggregator.window_sec to
<prefix>/pi/aggregator/noise_profile after every message.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, "aggregator")
		if err != nil {
			return err
		}
		defer rt.close()

		client, err := rt.dialBus(ctx, "aggregator")
		if err != nil {
			return err
		}
		defer client.Close()

		svc, err := noise.NewService(client, rt.cfg.MQTT.Prefix(), rt.cfg.Aggregator.Window(),
			noise.WithMetrics(rt.metrics),
			noise.WithLogger(rt.logger),
		)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return rt.serveHTTP(gctx) })
		g.Go(func() error { return svc.Run(gctx, client) })
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
}
