// Command vadstream runs streaming voice activity detection on classroom
// audio and the services that turn the resulting noise features into
// speaker actuation.
//
// Usage:
//
//	vadstream [--config file] <command> [flags]
//
// Commands:
//
//	serve     - detect speech on the configured input and publish events
//	aggregate - maintain the rolling noise profile from device features
//	decide    - map noise profiles to speaker volume commands
//	capture   - record the configured input to WAV files
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/vadstream/cmd/vadstream/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := commands.Execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "vadstream:", err)
		os.Exit(1)
	}
}
