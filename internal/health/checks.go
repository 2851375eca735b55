package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/vadstream/internal/resilience"
)

// Connected reports a failure while connected returns false. Used for the
// MQTT session.
func Connected(name string, connected func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !connected() {
			return errors.New("not connected")
		}
		return nil
	}}
}

// Breaker fails while the breaker is open. A half-open breaker is reported as
// ready so probes can get through.
func Breaker(name string, state func() resilience.State) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if s := state(); s == resilience.StateOpen {
			return fmt.Errorf("circuit %s", s)
		}
		return nil
	}}
}

// Fallback fails only when every entry of a fallback group is open.
func Fallback(name string, states func() []resilience.EntryState) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		var open []string
		all := states()
		for _, s := range all {
			if s.State == resilience.StateOpen {
				open = append(open, s.Name)
			}
		}
		if len(all) > 0 && len(open) == len(all) {
			return fmt.Errorf("all engines open: %s", strings.Join(open, ", "))
		}
		return nil
	}}
}

// Ping wraps a context-aware probe such as pgxpool.Pool.Ping.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}
