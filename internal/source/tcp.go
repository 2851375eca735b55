package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/MrWong99/vadstream/internal/session"
)

// TCPOpener accepts one client per session on a shared listener. The client
// streams raw 16-bit mono PCM at the session rate and ends the session by
// closing the connection.
type TCPOpener struct {
	ln     net.Listener
	logger *slog.Logger

	closeOnce sync.Once
}

// ListenTCP starts listening on addr.
func ListenTCP(addr string, logger *slog.Logger) (*TCPOpener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("source: listen %s: %w", addr, err)
	}
	return NewTCPOpener(ln, logger), nil
}

// NewTCPOpener wraps an existing listener.
func NewTCPOpener(ln net.Listener, logger *slog.Logger) *TCPOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPOpener{ln: ln, logger: logger.With("listen_addr", ln.Addr().String())}
}

// Addr returns the listener address.
func (o *TCPOpener) Addr() net.Addr { return o.ln.Addr() }

// Open waits for the next client. Cancelling ctx interrupts the wait without
// closing the listener.
func (o *TCPOpener) Open(ctx context.Context) (session.Source, error) {
	o.logger.Info("tcp: waiting for client")
	if dl, ok := o.ln.(interface{ SetDeadline(time.Time) error }); ok {
		stop := context.AfterFunc(ctx, func() { _ = dl.SetDeadline(time.Now()) })
		defer func() {
			stop()
			_ = dl.SetDeadline(time.Time{})
		}()
	}
	conn, err := o.ln.Accept()
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("source: tcp listener closed: %w", err)
		}
		return nil, fmt.Errorf("source: accept: %w", err)
	}
	o.logger.Info("tcp: client connected", "remote", conn.RemoteAddr().String())
	return newStream(conn, conn, nil), nil
}

// Close stops the listener. Safe to call more than once.
func (o *TCPOpener) Close() error {
	var err error
	o.closeOnce.Do(func() { err = o.ln.Close() })
	return err
}

var _ session.Opener = (*TCPOpener)(nil)
