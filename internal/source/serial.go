package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"github.com/MrWong99/vadstream/internal/session"
	"github.com/MrWong99/vadstream/pkg/audio"
)

// pollInterval is the serial read timeout used while polling, so that
// header scans notice cancellation and stalls promptly.
const pollInterval = 100 * time.Millisecond

// Port is the subset of serial.Port used by the serial openers.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// PortOpener opens a serial device. [OpenSerialPort] is the default.
type PortOpener func(name string, baud int) (Port, error)

// OpenSerialPort opens name at baud, 8N1.
func OpenSerialPort(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SerialConfig configures the serial openers.
type SerialConfig struct {
	Port     string
	BaudRate int

	// Trigger is written after opening to start a recording (serial WAV only).
	Trigger string

	// HeaderTimeout bounds the RIFF scan (serial WAV only).
	HeaderTimeout time.Duration

	// ReadTimeout ends the session with [ErrStalled] when no byte arrives for
	// this long. Zero waits forever.
	ReadTimeout time.Duration

	// SampleRate is the session rate; WAV payloads in another format are
	// converted.
	SampleRate int

	// MaxPreamble bounds the bytes discarded before "RIFF".
	MaxPreamble int

	// Open overrides the device opener; used in tests.
	Open PortOpener

	Logger *slog.Logger
}

func (c *SerialConfig) defaults() {
	if c.Open == nil {
		c.Open = OpenSerialPort
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// SerialWAVOpener triggers one recording per session: it opens the port,
// flushes stale input, writes the trigger, scans for the WAV header and
// yields exactly the announced payload.
type SerialWAVOpener struct {
	cfg SerialConfig
}

// NewSerialWAVOpener returns an opener for WAV-framed serial recordings.
func NewSerialWAVOpener(cfg SerialConfig) *SerialWAVOpener {
	cfg.defaults()
	return &SerialWAVOpener{cfg: cfg}
}

// Open implements session.Opener.
func (o *SerialWAVOpener) Open(ctx context.Context) (session.Source, error) {
	log := o.cfg.Logger.With("port", o.cfg.Port)
	p, err := o.cfg.Open(o.cfg.Port, o.cfg.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("source: open serial %s: %w", o.cfg.Port, err)
	}
	fail := func(err error) (session.Source, error) {
		_ = p.Close()
		return nil, err
	}
	if err := p.SetReadTimeout(pollInterval); err != nil {
		return fail(fmt.Errorf("source: set read timeout: %w", err))
	}
	if err := p.ResetInputBuffer(); err != nil {
		log.Warn("serial: could not flush input buffer", "err", err)
	}
	if o.cfg.Trigger != "" {
		if _, err := io.WriteString(p, o.cfg.Trigger); err != nil {
			return fail(fmt.Errorf("source: write trigger: %w", err))
		}
		log.Debug("serial: trigger sent", "trigger", o.cfg.Trigger)
	}

	// Close the port if ctx ends mid-scan so a blocked read returns.
	stop := context.AfterFunc(ctx, func() { _ = p.Close() })
	header, rest, err := ScanHeader(ctx, p, o.cfg.HeaderTimeout, o.cfg.MaxPreamble)
	stop()
	if err != nil {
		return fail(err)
	}
	h, err := audio.ParseWAVHeader(header)
	if err != nil {
		return fail(fmt.Errorf("source: %w", err))
	}
	if err := checkFormat(h); err != nil {
		return fail(err)
	}
	log.Info("serial: wav header received",
		"format", h.Format.String(),
		"data_bytes", h.DataSize,
		"duration", time.Duration(h.DataSize)*time.Second/time.Duration(h.Format.SampleRate*h.Format.Channels*audio.BytesPerSample),
	)

	r := newLimitedWAV(rest, newPollReader(p, o.cfg.ReadTimeout), h.DataSize)
	return newStream(r, p, audio.NewConverter(h.Format, o.cfg.SampleRate, log)), nil
}

// SerialPCMOpener streams raw headerless 16-bit mono PCM at the session rate
// until the port fails or stalls.
type SerialPCMOpener struct {
	cfg SerialConfig
}

// NewSerialPCMOpener returns an opener for raw serial PCM.
func NewSerialPCMOpener(cfg SerialConfig) *SerialPCMOpener {
	cfg.defaults()
	return &SerialPCMOpener{cfg: cfg}
}

// Open implements session.Opener.
func (o *SerialPCMOpener) Open(context.Context) (session.Source, error) {
	p, err := o.cfg.Open(o.cfg.Port, o.cfg.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("source: open serial %s: %w", o.cfg.Port, err)
	}
	if err := p.SetReadTimeout(pollInterval); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("source: set read timeout: %w", err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		o.cfg.Logger.Warn("serial: could not flush input buffer", "port", o.cfg.Port, "err", err)
	}
	o.cfg.Logger.Info("serial: streaming raw pcm", "port", o.cfg.Port, "baud", o.cfg.BaudRate)
	return newStream(newPollReader(p, o.cfg.ReadTimeout), p, nil), nil
}

var (
	_ session.Opener = (*SerialWAVOpener)(nil)
	_ session.Opener = (*SerialPCMOpener)(nil)
)
