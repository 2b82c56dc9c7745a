package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"papertrader/internal/config"
	"papertrader/internal/core"
	"papertrader/pkg/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignWS(t *testing.T) {
	// HMAC_SHA256("secret", "GET/realtime1700000000000")
	got := SignWS("secret", 1700000000000)
	assert.Len(t, got, 64)
	// Deterministic for fixed inputs.
	assert.Equal(t, SignWS("secret", 1700000000000), got)
	assert.NotEqual(t, SignWS("other", 1700000000000), got)
	assert.NotEqual(t, SignWS("secret", 1700000000001), got)
}

func TestRestSigner_Headers(t *testing.T) {
	signer := NewRestSigner("my_key", "my_secret", 5000)

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/v5/market/tickers?symbol=BTCUSDT&category=linear", nil)
	require.NoError(t, err)

	require.NoError(t, signer.SignRequest(req))

	assert.Equal(t, "my_key", req.Header.Get("X-BAPI-API-KEY"))
	assert.Equal(t, "5000", req.Header.Get("X-BAPI-RECV-WINDOW"))
	assert.Len(t, req.Header.Get("X-BAPI-SIGN"), 64)
	assert.NotEmpty(t, req.Header.Get("X-BAPI-TIMESTAMP"))
}

func TestSortedQuery(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com/x?b=2&a=1&c=3", nil)
	require.NoError(t, err)
	assert.Equal(t, "a=1&b=2&c=3", sortedQuery(req))
}

type wsServer struct {
	t        *testing.T
	server   *httptest.Server
	mu       sync.Mutex
	received []map[string]interface{}
	conns    []*websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{t: t}
	upgrader := websocket.Upgrader{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, msg)
			s.mu.Unlock()
		}
	}))
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *wsServer) messages() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]interface{}, len(s.received))
	copy(out, s.received)
	return out
}

func (s *wsServer) push(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.WriteJSON(v)
	}
}

func (s *wsServer) close() {
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.server.Close()
}

func testStreamConfig(publicURL, privateURL string) config.StreamConfig {
	return config.StreamConfig{
		PublicURL:             publicURL,
		PrivateURL:            privateURL,
		APIKey:                "test_key",
		SecretKey:             "test_secret",
		ReconnectDelaySeconds: 1,
		ReconnectMaxAttempts:  5,
	}
}

func TestTransport_SubscribeConnectsFirst(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	tr := NewTransport(testStreamConfig(server.url(), ""), logging.NewNop())
	defer tr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, tr.Subscribe(ctx, core.ChannelPublic, "tickers.BTCUSDT"))
	assert.True(t, tr.IsConnected(core.ChannelPublic))

	deadline := time.Now().Add(2 * time.Second)
	for len(server.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	msgs := server.messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "subscribe", msgs[0]["op"])
	assert.Equal(t, []interface{}{"tickers.BTCUSDT"}, msgs[0]["args"])
	assert.Equal(t, []string{"tickers.BTCUSDT"}, tr.Topics(core.ChannelPublic))
}

func TestTransport_PrivateAuthHandshake(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	tr := NewTransport(testStreamConfig(server.url(), server.url()), logging.NewNop())
	defer tr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, tr.Subscribe(ctx, core.ChannelPrivate, "order"))

	deadline := time.Now().Add(2 * time.Second)
	for len(server.messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	msgs := server.messages()
	require.GreaterOrEqual(t, len(msgs), 2)

	// Auth precedes the subscription.
	assert.Equal(t, "auth", msgs[0]["op"])
	args, ok := msgs[0]["args"].([]interface{})
	require.True(t, ok)
	require.Len(t, args, 3)
	assert.Equal(t, "test_key", args[0])

	expires, ok := args[1].(float64)
	require.True(t, ok)
	assert.Equal(t, SignWS("test_secret", int64(expires)), args[2])

	assert.Equal(t, "subscribe", msgs[1]["op"])
}

func TestTransport_DispatchByPrefix(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	tr := NewTransport(testStreamConfig(server.url(), ""), logging.NewNop())
	defer tr.Stop()

	var mu sync.Mutex
	var tickerTopics, orderbookTopics []string

	tr.OnMessage("tickers.", func(topic string, data []byte) {
		mu.Lock()
		tickerTopics = append(tickerTopics, topic)
		mu.Unlock()
	})
	tr.OnMessage("orderbook.", func(topic string, data []byte) {
		mu.Lock()
		orderbookTopics = append(orderbookTopics, topic)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx, core.ChannelPublic))

	deadline := time.Now().Add(2 * time.Second)
	for !tr.IsConnected(core.ChannelPublic) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, tr.IsConnected(core.ChannelPublic))

	server.push(map[string]interface{}{
		"topic": "tickers.BTCUSDT",
		"data":  map[string]string{"lastPrice": "50000"},
	})
	server.push(map[string]interface{}{
		"topic": "orderbook.50.BTCUSDT",
		"data":  map[string]interface{}{},
	})

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(tickerTopics) >= 1 && len(orderbookTopics) >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"tickers.BTCUSDT"}, tickerTopics)
	assert.Equal(t, []string{"orderbook.50.BTCUSDT"}, orderbookTopics)
}

func TestTransport_HandlerPanicRecovered(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	tr := NewTransport(testStreamConfig(server.url(), ""), logging.NewNop())
	defer tr.Stop()

	var mu sync.Mutex
	var survived int

	tr.OnMessage("tickers.", func(topic string, data []byte) {
		panic("handler bug")
	})
	tr.OnMessage("tickers.", func(topic string, data []byte) {
		mu.Lock()
		survived++
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx, core.ChannelPublic))

	deadline := time.Now().Add(2 * time.Second)
	for !tr.IsConnected(core.ChannelPublic) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	server.push(map[string]interface{}{"topic": "tickers.BTCUSDT", "data": map[string]string{}})
	server.push(map[string]interface{}{"topic": "tickers.BTCUSDT", "data": map[string]string{}})

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := survived >= 2
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, survived, "later handler and later frames must survive a panicking handler")
}

func TestTransport_MalformedFrameIgnored(t *testing.T) {
	tr := NewTransport(testStreamConfig("ws://127.0.0.1:1", ""), logging.NewNop())

	called := false
	tr.OnMessage("tickers.", func(topic string, data []byte) {
		called = true
	})

	tr.dispatch(core.ChannelPublic, []byte("{not json"))
	assert.False(t, called)
}

func TestRestClient_LatestPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/tickers", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		// Signed because credentials are configured.
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0,
			"result": map[string]interface{}{
				"list": []map[string]string{
					{"symbol": "BTCUSDT", "lastPrice": "50123.5"},
				},
			},
		})
	}))
	defer server.Close()

	cfg := testStreamConfig("ws://unused", "")
	cfg.RestURL = server.URL

	client := NewRestClient(cfg, logging.NewNop())
	price, err := client.LatestPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "50123.5", price.String())
}
