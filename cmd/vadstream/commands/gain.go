package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vadstream/internal/config"
	"github.com/MrWong99/vadstream/internal/source"
)

var gainFlags struct {
	port string
	baud int
	set  int
}

var gainCmd = &cobra.Command{
	Use:   "gain",
	Short: "Adjust the microphone gain of a serial capture node",
	Long: `Talk to a capture node over its serial line. With --set the gain
level (0-4, i.e. 1x to 16x) is applied once; without it an interactive
prompt accepts a level, "i" for the current settings or "q" to quit.

The port defaults to input.port of the --config file.`,
	RunE: runGain,
}

func init() {
	gainCmd.Flags().StringVarP(&gainFlags.port, "port", "p", "", "serial device, e.g. /dev/ttyUSB0")
	gainCmd.Flags().IntVarP(&gainFlags.baud, "baud", "b", config.DefaultBaudRate, "serial baud rate")
	gainCmd.Flags().IntVarP(&gainFlags.set, "set", "s", -1, "gain level to apply and exit (0-4)")
	rootCmd.AddCommand(gainCmd)
}

func runGain(cmd *cobra.Command, _ []string) error {
	port, baud := gainFlags.port, gainFlags.baud
	if port == "" && configPath != "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		port = cfg.Input.Port
		if !cmd.Flags().Changed("baud") && cfg.Input.BaudRate > 0 {
			baud = cfg.Input.BaudRate
		}
	}
	if port == "" {
		return errors.New("gain: no serial port; pass --port or a config with input.port")
	}

	p, err := source.OpenSerialPort(port, baud)
	if err != nil {
		return err
	}
	g, err := source.NewGainController(p, 0)
	if err != nil {
		_ = p.Close()
		return err
	}
	defer g.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if gainFlags.set >= 0 {
		reply, err := g.SetGain(ctx, gainFlags.set)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "gain %d (%dx): %s\n", gainFlags.set, source.GainFactor(gainFlags.set), reply)
		return nil
	}
	return gainREPL(ctx, cmd.InOrStdin(), out, g)
}

// gainDevice is the part of *source.GainController the prompt drives.
type gainDevice interface {
	SetGain(ctx context.Context, level int) (string, error)
	Info(ctx context.Context) (string, error)
}

// gainREPL reads commands line by line until "q", EOF or cancellation.
// Device errors are printed and the prompt continues.
func gainREPL(ctx context.Context, in io.Reader, out io.Writer, dev gainDevice) error {
	show := func(reply string, err error) {
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return
		}
		fmt.Fprintln(out, reply)
	}

	show(dev.Info(ctx))
	fmt.Fprintf(out, "levels: 0-%d, i = info, q = quit\n", source.MaxGainLevel)

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		switch line {
		case "":
			continue
		case "q", "quit", "exit":
			return nil
		case "i", "info":
			show(dev.Info(ctx))
			continue
		}
		level, err := strconv.Atoi(line)
		if err != nil {
			fmt.Fprintf(out, "unknown command %q\n", line)
			continue
		}
		show(dev.SetGain(ctx, level))
	}
}

var _ gainDevice = (*source.GainController)(nil)
