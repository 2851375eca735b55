// Package bus wraps an auto-reconnecting MQTT v5 connection for publishing
// detector events and consuming feature streams.
//
// A [Client] satisfies event.RawPublisher, so it can sit directly behind a
// TopicPublisher. Subscriptions are remembered and re-issued after every
// reconnect.
package bus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
)

// ErrNotConnected is returned by Publish when the broker connection is down.
var ErrNotConnected = errors.New("bus: not connected")

// Handler processes one received message. It runs on the client's receive
// goroutine and should return quickly.
type Handler = func(ctx context.Context, topic string, payload []byte)

// Config holds connection parameters for [Dial].
type Config struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string

	// ClientID defaults to "vadstream-<random>".
	ClientID string

	// KeepAlive in seconds. Default 20.
	KeepAlive uint16

	// ConnectRetryDelay between reconnect attempts. Default 3s.
	ConnectRetryDelay time.Duration

	// ConnectTimeout bounds a single connect attempt. Default 10s.
	ConnectTimeout time.Duration

	// PublishTimeout bounds Publish when the caller's context has no
	// deadline. Default 2s.
	PublishTimeout time.Duration

	// QoS used for publishes and subscriptions. Default 0.
	QoS byte

	Logger *slog.Logger
}

// Client is a connected MQTT client.
type Client struct {
	cm     *autopaho.ConnectionManager
	cfg    Config
	logger *slog.Logger

	up atomic.Bool

	mu   sync.RWMutex
	subs map[string]Handler

	recvCtx    context.Context
	recvCancel context.CancelFunc
	closeOnce  sync.Once
}

// Dial connects to cfg.Broker and blocks until the first connection is up or
// ctx is done. Later disconnects are retried in the background.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("bus: broker URL is required")
	}
	u, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("bus: parse broker url: %w", err)
	}
	if cfg.ClientID == "" {
		var b [6]byte
		_, _ = rand.Read(b[:])
		cfg.ClientID = "vadstream-" + hex.EncodeToString(b[:])
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 20
	}
	if cfg.ConnectRetryDelay == 0 {
		cfg.ConnectRetryDelay = 3 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("broker", u.Host, "client_id", cfg.ClientID)

	recvCtx, recvCancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:        cfg,
		logger:     logger,
		subs:       make(map[string]Handler),
		recvCtx:    recvCtx,
		recvCancel: recvCancel,
	}

	acfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		AttemptConnection:             attemptConnection,
		KeepAlive:                     cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		ConnectRetryDelay:             cfg.ConnectRetryDelay,
		ConnectTimeout:                cfg.ConnectTimeout,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.up.Store(true)
			logger.Info("mqtt connected")
			c.resubscribe(cm)
		},
		OnConnectError: func(err error) {
			c.up.Store(false)
			logger.Warn("mqtt connect failed; retrying", "err", err, "retry_in", cfg.ConnectRetryDelay)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				c.up.Store(false)
				logger.Warn("mqtt client error", "err", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.up.Store(false)
				logger.Warn("mqtt server disconnected", "reason_code", d.ReasonCode)
			},
		},
	}

	cm, err := autopaho.NewConnection(context.Background(), acfg)
	if err != nil {
		recvCancel()
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	c.cm = cm
	if err := cm.AwaitConnection(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("bus: await connection: %w", err)
	}
	return c, nil
}

func attemptConnection(ctx context.Context, _ autopaho.ClientConfig, u *url.URL) (net.Conn, error) {
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp", "":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return packets.NewThreadSafeConn(conn), nil
	default:
		return nil, fmt.Errorf("bus: unsupported scheme %q in %s", u.Scheme, u.Redacted())
	}
}

// Publish sends payload to topic. It satisfies event.RawPublisher.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.up.Load() {
		return ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PublishTimeout)
		defer cancel()
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     c.cfg.QoS,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h for messages matching filter and subscribes on the
// broker. The subscription is restored after reconnects.
func (c *Client) Subscribe(ctx context.Context, filter string, h Handler) error {
	c.mu.Lock()
	c.subs[filter] = h
	c.mu.Unlock()

	_, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: c.cfg.QoS}},
	})
	if err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", filter, err)
	}
	c.logger.Info("mqtt subscribed", "filter", filter)
	return nil
}

// Connected reports whether the broker connection is currently up.
func (c *Client) Connected() bool {
	return c.up.Load()
}

// Close disconnects from the broker. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.recvCancel()
		c.up.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if derr := c.cm.Disconnect(ctx); derr != nil {
			err = fmt.Errorf("bus: disconnect: %w", derr)
		}
	})
	return err
}

func (c *Client) resubscribe(cm *autopaho.ConnectionManager) {
	c.mu.RLock()
	filters := make([]paho.SubscribeOptions, 0, len(c.subs))
	for f := range c.subs {
		filters = append(filters, paho.SubscribeOptions{Topic: f, QoS: c.cfg.QoS})
	}
	c.mu.RUnlock()
	if len(filters) == 0 {
		return
	}
	go func() {
		if _, err := cm.Subscribe(c.recvCtx, &paho.Subscribe{Subscriptions: filters}); err != nil {
			c.logger.Error("mqtt resubscribe failed", "err", err)
		}
	}()
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.RLock()
	var hs []Handler
	for f, h := range c.subs {
		if Match(f, topic) {
			hs = append(hs, h)
		}
	}
	c.mu.RUnlock()
	for _, h := range hs {
		h(c.recvCtx, topic, payload)
	}
}

// Match reports whether topic matches the MQTT subscription filter, honouring
// the single-level '+' and multi-level '#' wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return i == len(fs)-1
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
