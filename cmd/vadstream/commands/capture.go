package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vadstream/internal/session"
	"github.com/MrWong99/vadstream/internal/source"
)

var captureFlags struct {
	out   string
	count int
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record the configured input to WAV files",
	Long: `Open the configured input and write every stream to a mono 16-bit WAV
file in --out without running detection. For serial-wav input each
recording is one trigger cycle.`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVarP(&captureFlags.out, "out", "o", "recordings", "output directory")
	captureCmd.Flags().IntVarP(&captureFlags.count, "count", "n", 1, "number of streams to record (0 records until interrupted)")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := newRuntime(ctx, "capture")
	if err != nil {
		return err
	}
	defer rt.close()

	in, err := buildInput(rt)
	if err != nil {
		return err
	}
	defer in.close()

	rec := &source.Recorder{
		Opener:     in.opener,
		Dir:        captureFlags.out,
		SampleRate: rt.cfg.VAD.SampleRate,
		Logger:     rt.logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return in.run(gctx) })
	g.Go(func() error {
		defer cancel()
		for i := 0; captureFlags.count == 0 || i < captureFlags.count; i++ {
			if err := captureOnce(gctx, rec); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("capture %d: %w", i+1, err)
			}
		}
		return nil
	})
	return g.Wait()
}

// captureOnce records one stream until it ends.
func captureOnce(ctx context.Context, opener session.Opener) error {
	src, err := opener.Open(ctx)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer stop()

	for {
		if _, err := src.NextChunk(); err != nil {
			closeErr := src.Close()
			if errors.Is(err, io.EOF) || errors.Is(err, source.ErrClosed) {
				return closeErr
			}
			return errors.Join(err, closeErr)
		}
	}
}
