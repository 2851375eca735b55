package commands

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vadstream/internal/decision"
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Map noise profiles to speaker volume commands",
	Long: `Subscribe to <prefix>/pi/aggregator/noise_profile and publish a
set_volume command to <prefix>/pi/decision/actuation/speaker for each
profile. Louder rooms get a lower speaker level.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, "decision")
		if err != nil {
			return err
		}
		defer rt.close()

		client, err := rt.dialBus(ctx, "decision")
		if err != nil {
			return err
		}
		defer client.Close()

		svc := decision.NewService(client, rt.cfg.MQTT.Prefix(),
			decision.WithMetrics(rt.metrics),
			decision.WithLogger(rt.logger),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return rt.serveHTTP(gctx) })
		g.Go(func() error { return svc.Run(gctx, client) })
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(decideCmd)
}
