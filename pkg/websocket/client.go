// Package websocket provides a reconnecting WebSocket client with a
// bounded retry policy.
package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"papertrader/internal/core"
	apperrors "papertrader/pkg/errors"
	"papertrader/pkg/retry"
	"papertrader/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"
)

// MessageHandler handles a raw incoming frame.
type MessageHandler func(message []byte)

// Client is a WebSocket client that reconnects with a fixed backoff up to
// a hard attempt cap. Once the cap is exhausted the client stays
// disconnected until Start is called again.
type Client struct {
	url           string
	handler       MessageHandler
	reconnectWait time.Duration
	maxAttempts   int

	conn      *websocket.Conn
	connected atomic.Bool
	mu        sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	onConnected    func()
	onDisconnected func(err error)

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	logger core.ILogger

	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
}

// NewClient creates a client for the given endpoint. The handler receives
// every frame read from the connection.
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))

	return &Client{
		url:           url,
		handler:       handler,
		reconnectWait: 5 * time.Second,
		maxAttempts:   5,
		pingInterval:  30 * time.Second,
		pingWait:      10 * time.Second,
		pongWait:      60 * time.Second,
		logger:        logger,
		msgCounter:    msgCounter,
		connCounter:   connCounter,
	}
}

// SetRetryPolicy overrides the reconnect backoff and attempt cap.
func (c *Client) SetRetryPolicy(wait time.Duration, maxAttempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectWait = wait
	c.maxAttempts = maxAttempts
}

// SetPingConfig sets the ping/pong configuration.
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetOnConnected sets the callback invoked after each successful connect.
// Callers use it to authenticate and re-issue subscriptions.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// SetOnDisconnected sets the callback invoked when the client gives up
// reconnecting. The error is ErrReconnectExhausted.
func (c *Client) SetOnDisconnected(cb func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = cb
}

// IsConnected reports whether an active connection exists.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Send writes a JSON message to the connection.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return apperrors.ErrNotConnected
	}
	return c.conn.WriteJSON(message)
}

// Start connects and begins the receive loop. Calling Start on a running
// client is a no-op; calling it after retry exhaustion begins a fresh
// attempt sequence.
func (c *Client) Start() {
	c.mu.Lock()
	if c.done != nil {
		select {
		case <-c.done:
			// Previous run finished; fall through and restart.
		default:
			c.mu.Unlock()
			return
		}
	}
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runLoop(done)
}

// Stop closes the connection and stops the receive loop.
func (c *Client) Stop() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("WebSocket client Stop: goroutines did not exit within timeout")
		}
	}

	c.closeConn()
}

func (c *Client) runLoop(done chan struct{}) {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-done
		cancel()
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		c.mu.Lock()
		policy := retry.FixedPolicy(c.maxAttempts, c.reconnectWait)
		c.mu.Unlock()

		attempt := 0
		err := retry.Do(ctx, policy, retry.Always, func() error {
			attempt++
			dialErr := c.connect()
			if dialErr != nil && c.logger != nil {
				c.logger.Error("WebSocket connect failed",
					"url", c.url, "attempt", attempt, "error", dialErr)
			}
			return dialErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.giveUp(done)
			return
		}

		c.connected.Store(true)

		c.mu.Lock()
		onConnected := c.onConnected
		pingInterval := c.pingInterval
		c.mu.Unlock()

		if onConnected != nil {
			onConnected()
		}

		heartbeatStop := make(chan struct{})
		if pingInterval > 0 {
			c.wg.Add(1)
			go c.heartbeat(done, heartbeatStop)
		}

		c.readLoop(done)
		close(heartbeatStop)
		c.connected.Store(false)

		// Connection lost; pause once, then start a fresh attempt
		// sequence against the cap.
		select {
		case <-done:
			return
		case <-time.After(c.reconnectWait):
		}
	}
}

// giveUp marks the client disconnected for good until the next Start.
func (c *Client) giveUp(done chan struct{}) {
	c.connected.Store(false)
	select {
	case <-done:
	default:
		close(done)
	}

	c.mu.Lock()
	onDisconnected := c.onDisconnected
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Error("WebSocket reconnect attempts exhausted, staying disconnected",
			"url", c.url, "attempts", c.maxAttempts)
	}
	if onDisconnected != nil {
		onDisconnected(apperrors.ErrReconnectExhausted)
	}
}

func (c *Client) heartbeat(done, stop chan struct{}) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				// Failed ping closes the connection to trigger a reconnect.
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	c.connCounter.Add(context.Background(), 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

func (c *Client) readLoop(done chan struct{}) {
	defer c.closeConn()

	for {
		select {
		case <-done:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		c.msgCounter.Add(context.Background(), 1)
		if c.handler != nil {
			c.handler(message)
		}
	}
}
