package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/vadstream/internal/config"
	"github.com/MrWong99/vadstream/internal/session"
	"github.com/MrWong99/vadstream/internal/source"
)

// input is the opener for the configured transport plus whatever has to run
// beside it.
type input struct {
	opener session.Opener

	// run serves the transport until ctx is done. Never nil.
	run func(ctx context.Context) error

	// close releases listeners. Never nil.
	close func() error
}

func buildInput(rt *runtime) (*input, error) {
	in := rt.cfg.Input
	rate := rt.cfg.VAD.SampleRate
	idle := func(ctx context.Context) error { <-ctx.Done(); return nil }
	noop := func() error { return nil }

	serial := source.SerialConfig{
		Port:          in.Port,
		BaudRate:      in.BaudRate,
		Trigger:       in.Trigger,
		HeaderTimeout: in.HeaderTimeout,
		ReadTimeout:   in.ReadTimeout,
		SampleRate:    rate,
		Logger:        rt.logger,
	}

	switch in.Kind {
	case config.InputSerialWAV:
		return &input{opener: source.NewSerialWAVOpener(serial), run: idle, close: noop}, nil
	case config.InputSerialPCM:
		return &input{opener: source.NewSerialPCMOpener(serial), run: idle, close: noop}, nil
	case config.InputFile:
		return &input{opener: &source.FileOpener{Path: in.Path, SampleRate: rate, Logger: rt.logger}, run: idle, close: noop}, nil
	case config.InputTCP:
		ln, err := source.ListenTCP(in.ListenAddr, rt.logger)
		if err != nil {
			return nil, err
		}
		rt.logger.Info("waiting for tcp audio clients", "addr", ln.Addr())
		return &input{opener: ln, run: idle, close: ln.Close}, nil
	case config.InputWebSocket:
		ws := source.NewWebSocketOpener(rt.logger)
		srv := &http.Server{Addr: in.ListenAddr, Handler: ws, ReadHeaderTimeout: 5 * time.Second}
		rt.logger.Info("waiting for websocket audio clients", "addr", in.ListenAddr)
		return &input{
			opener: ws,
			run:    func(ctx context.Context) error { return runServer(ctx, srv) },
			close:  noop,
		}, nil
	case "":
		return nil, errors.New("input.kind is required")
	default:
		return nil, fmt.Errorf("unsupported input.kind %q", in.Kind)
	}
}
