package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vadstream/internal/session"
)

// handoffTimeout is how long a new client waits for a session slot before
// being turned away.
const handoffTimeout = 5 * time.Second

// WebSocketOpener is an [http.Handler] that upgrades clients and hands them,
// one at a time, to sessions. Binary messages carry raw 16-bit mono PCM;
// text messages are ignored. A normal close ends the session cleanly.
type WebSocketOpener struct {
	logger  *slog.Logger
	clients chan *wsSource
}

// NewWebSocketOpener returns an opener to be mounted on an HTTP server.
func NewWebSocketOpener(logger *slog.Logger) *WebSocketOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketOpener{logger: logger, clients: make(chan *wsSource)}
}

// ServeHTTP upgrades the request and blocks until the session reading from it
// has closed the source.
func (o *WebSocketOpener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		o.logger.Warn("websocket: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(1 << 20)
	ctx, cancel := context.WithCancel(r.Context())
	src := &wsSource{conn: conn, ctx: ctx, cancel: cancel, done: make(chan struct{})}

	select {
	case o.clients <- src:
		o.logger.Info("websocket: client connected", "remote", r.RemoteAddr)
	case <-time.After(handoffTimeout):
		cancel()
		conn.Close(websocket.StatusTryAgainLater, "session busy")
		return
	case <-r.Context().Done():
		cancel()
		conn.CloseNow()
		return
	}
	<-src.done
}

// Open waits for the next client.
func (o *WebSocketOpener) Open(ctx context.Context) (session.Source, error) {
	select {
	case src := <-o.clients:
		return src, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type wsSource struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NextChunk returns the next binary message payload.
func (s *wsSource) NextChunk() ([]byte, error) {
	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil, io.EOF
			}
			if s.closed.Load() || s.ctx.Err() != nil {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("source: websocket read: %w", err)
		}
		if typ == websocket.MessageBinary {
			return data, nil
		}
	}
}

// Close ends the connection and releases the HTTP handler. Safe to call more
// than once. Errors from the close handshake are ignored; the peer may
// already be gone.
func (s *wsSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.conn.Close(websocket.StatusNormalClosure, "session ended")
		s.cancel()
		close(s.done)
	})
	return nil
}

var _ session.Opener = (*WebSocketOpener)(nil)
