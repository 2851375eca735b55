package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MaxGainLevel is the highest microphone gain step the node firmware
// accepts. Level n amplifies by 2^n.
const MaxGainLevel = 4

var (
	// ErrGainRange is returned for a level outside 0..MaxGainLevel.
	ErrGainRange = fmt.Errorf("source: gain level must be 0-%d", MaxGainLevel)

	// ErrNoResponse is returned when the node stays silent after a command.
	ErrNoResponse = errors.New("source: no response from node")
)

// GainFactor returns the amplification of level, e.g. 16 for level 4.
func GainFactor(level int) int { return 1 << level }

// GainController adjusts the microphone gain of a capture node over its
// serial line. Commands are newline-terminated; the node answers with a
// short text line.
type GainController struct {
	mu     sync.Mutex
	port   Port
	settle time.Duration
}

// NewGainController wraps an open port. settle bounds the wait for the first
// response byte; it defaults to 2s.
func NewGainController(p Port, settle time.Duration) (*GainController, error) {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	if err := p.SetReadTimeout(pollInterval); err != nil {
		return nil, fmt.Errorf("source: set read timeout: %w", err)
	}
	return &GainController{port: p, settle: settle}, nil
}

// SetGain sends G<level> and returns the node's acknowledgement.
func (g *GainController) SetGain(ctx context.Context, level int) (string, error) {
	if level < 0 || level > MaxGainLevel {
		return "", fmt.Errorf("%w: got %d", ErrGainRange, level)
	}
	return g.command(ctx, fmt.Sprintf("G%d", level))
}

// Info asks the node to describe its microphone settings.
func (g *GainController) Info(ctx context.Context) (string, error) {
	return g.command(ctx, "I")
}

// Close closes the port.
func (g *GainController) Close() error { return g.port.Close() }

// command writes cmd and collects the reply until the line goes quiet for one
// read timeout.
func (g *GainController) command(ctx context.Context, cmd string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.port.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("source: write %q: %w", cmd, err)
	}
	deadline := time.Now().Add(g.settle)
	var reply []byte
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := g.port.Read(buf)
		reply = append(reply, buf[:n]...)
		if err != nil {
			return "", fmt.Errorf("source: read reply to %q: %w", cmd, err)
		}
		if n == 0 && (len(reply) > 0 || time.Now().After(deadline)) {
			break
		}
	}
	if len(reply) == 0 {
		return "", fmt.Errorf("%w to %q", ErrNoResponse, cmd)
	}
	return strings.TrimSpace(string(reply)), nil
}
