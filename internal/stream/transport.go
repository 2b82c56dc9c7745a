// Package stream maintains the public and private market data channels and
// dispatches inbound frames to topic handlers.
package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"papertrader/internal/config"
	"papertrader/internal/core"
	apperrors "papertrader/pkg/errors"
	"papertrader/pkg/telemetry"
	"papertrader/pkg/websocket"
)

// frame is the inbound websocket envelope. Data frames carry a topic;
// op acknowledgements carry op/success.
type frame struct {
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
}

type handlerEntry struct {
	prefix  string
	handler core.MessageHandler
}

type channel struct {
	client *websocket.Client
	url    string

	mu     sync.Mutex
	topics []string
}

// Transport implements core.IStreamTransport over two reconnecting
// websocket clients. The private channel authenticates before accepting
// subscriptions.
type Transport struct {
	cfg    config.StreamConfig
	logger core.ILogger

	public  *channel
	private *channel

	mu       sync.RWMutex
	handlers []handlerEntry

	onConnected map[core.ChannelKind]func()
}

// NewTransport creates a transport for the configured endpoints. The
// private channel is optional; operations on it fail with ErrNotConnected
// when no private URL is configured.
func NewTransport(cfg config.StreamConfig, logger core.ILogger) *Transport {
	t := &Transport{
		cfg:         cfg,
		logger:      logger.WithField("component", "stream"),
		onConnected: make(map[core.ChannelKind]func()),
	}

	t.public = t.newChannel(core.ChannelPublic, cfg.PublicURL)
	if cfg.PrivateURL != "" {
		t.private = t.newChannel(core.ChannelPrivate, cfg.PrivateURL)
	}
	return t
}

func (t *Transport) newChannel(kind core.ChannelKind, url string) *channel {
	ch := &channel{url: url}

	client := websocket.NewClient(url, func(message []byte) {
		t.dispatch(kind, message)
	}, t.logger.WithField("channel", string(kind)))

	reconnectWait := time.Duration(t.cfg.ReconnectDelaySeconds) * time.Second
	if reconnectWait <= 0 {
		reconnectWait = 5 * time.Second
	}
	maxAttempts := t.cfg.ReconnectMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	client.SetRetryPolicy(reconnectWait, maxAttempts)

	if t.cfg.PingIntervalSeconds > 0 {
		client.SetPingConfig(
			time.Duration(t.cfg.PingIntervalSeconds)*time.Second,
			10*time.Second,
			time.Duration(t.cfg.PongWaitSeconds)*time.Second,
		)
	}

	client.SetOnConnected(func() {
		telemetry.GetGlobalMetrics().SetStreamConnected(string(kind), true)
		if kind == core.ChannelPrivate {
			if err := t.authenticate(ch); err != nil {
				t.logger.Error("Private channel authentication failed", "error", err)
			}
		}
		t.mu.RLock()
		hook := t.onConnected[kind]
		t.mu.RUnlock()
		if hook != nil {
			hook()
		}
	})
	client.SetOnDisconnected(func(err error) {
		telemetry.GetGlobalMetrics().SetStreamConnected(string(kind), false)
		t.logger.Error("Channel disconnected", "channel", string(kind), "error", err)
	})

	ch.client = client
	return ch
}

// SetOnConnected registers a hook invoked after each successful connect of
// the given channel (after authentication for the private channel).
// Subscriptions are not re-issued automatically after a reconnect; callers
// that need them back register a hook that calls Subscribe again.
func (t *Transport) SetOnConnected(kind core.ChannelKind, hook func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnected[kind] = hook
}

// Connect starts the channel's connection loop. Returns ErrNotConnected
// for a private channel that was never configured.
func (t *Transport) Connect(ctx context.Context, kind core.ChannelKind) error {
	ch := t.channelFor(kind)
	if ch == nil {
		return apperrors.ErrNotConnected
	}
	ch.client.Start()
	return nil
}

// Subscribe issues a topic subscription, connecting first if needed. The
// subscription is sent once the channel reports connected or the context
// expires.
func (t *Transport) Subscribe(ctx context.Context, kind core.ChannelKind, topic string) error {
	ch := t.channelFor(kind)
	if ch == nil {
		return apperrors.ErrNotConnected
	}

	if !ch.client.IsConnected() {
		if err := t.Connect(ctx, kind); err != nil {
			return err
		}
		if err := t.waitConnected(ctx, ch); err != nil {
			return err
		}
	}

	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{topic},
	}
	if err := ch.client.Send(sub); err != nil {
		return err
	}

	ch.mu.Lock()
	ch.topics = append(ch.topics, topic)
	ch.mu.Unlock()

	t.logger.Info("Subscribed", "channel", string(kind), "topic", topic)
	return nil
}

// OnMessage registers a handler for all topics with the given prefix.
func (t *Transport) OnMessage(prefix string, handler core.MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handlerEntry{prefix: prefix, handler: handler})
}

// IsConnected reports whether the channel has an active connection.
func (t *Transport) IsConnected(kind core.ChannelKind) bool {
	ch := t.channelFor(kind)
	return ch != nil && ch.client.IsConnected()
}

// Topics returns the topics subscribed on a channel since its last
// explicit Connect.
func (t *Transport) Topics(kind core.ChannelKind) []string {
	ch := t.channelFor(kind)
	if ch == nil {
		return nil
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]string, len(ch.topics))
	copy(out, ch.topics)
	return out
}

// Stop closes both channels.
func (t *Transport) Stop() {
	t.public.client.Stop()
	if t.private != nil {
		t.private.client.Stop()
	}
	telemetry.GetGlobalMetrics().SetStreamConnected(string(core.ChannelPublic), false)
	telemetry.GetGlobalMetrics().SetStreamConnected(string(core.ChannelPrivate), false)
}

func (t *Transport) channelFor(kind core.ChannelKind) *channel {
	if kind == core.ChannelPrivate {
		return t.private
	}
	return t.public
}

func (t *Transport) waitConnected(ctx context.Context, ch *channel) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if ch.client.IsConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// authenticate sends the private channel auth op:
// {"op":"auth","args":[apiKey, expires, signature]}.
func (t *Transport) authenticate(ch *channel) error {
	expires := time.Now().Add(10 * time.Second).UnixMilli()
	signature := SignWS(t.cfg.SecretKey, expires)

	auth := map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{t.cfg.APIKey, expires, signature},
	}
	return ch.client.Send(auth)
}

func (t *Transport) dispatch(kind core.ChannelKind, message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		t.logger.Warn("Dropping undecodable frame",
			"channel", string(kind), "error", apperrors.ErrDecodeFailed, "cause", err)
		return
	}

	// Op acknowledgements carry no topic.
	if f.Topic == "" {
		if f.Op == "auth" && f.Success != nil && !*f.Success {
			t.logger.Error("Authentication rejected",
				"channel", string(kind), "error", apperrors.ErrAuthenticationFailed, "ret_msg", f.RetMsg)
		}
		return
	}

	t.mu.RLock()
	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.RUnlock()

	for _, entry := range handlers {
		if !strings.HasPrefix(f.Topic, entry.prefix) {
			continue
		}
		t.invoke(entry, f.Topic, f.Data)
	}
}

// invoke runs a single handler, containing any panic so one bad handler
// cannot take down the read loop or starve later handlers.
func (t *Transport) invoke(entry handlerEntry, topic string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Message handler panic recovered",
				"prefix", entry.prefix, "topic", topic, "panic", r)
		}
	}()
	entry.handler(topic, data)
}
