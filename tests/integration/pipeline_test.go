package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"papertrader/internal/config"
	"papertrader/internal/core"
	"papertrader/internal/events"
	"papertrader/internal/paper"
	"papertrader/internal/risk"
	"papertrader/internal/signal"
	"papertrader/internal/stream"
	"papertrader/pkg/logging"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// surge is a deterministic evaluator used to drive the pipeline: it buys
// whenever the last price exceeds a fixed trigger.
type surge struct{}

func (surge) Evaluate(symbol string, price float64, snap core.IndicatorSnapshot, params map[string]float64) *core.Signal {
	if price > params["trigger"] {
		return &core.Signal{Direction: core.DirectionBuy, Confidence: 0.95}
	}
	return nil
}

// TestTickToFillPipeline pushes ticker frames through a real websocket
// into the transport, the signal engine, the risk gate, and the paper
// engine, and verifies a position comes out the other end.
func TestTickToFillPipeline(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	logger := logging.NewNop()
	bus := events.NewBus(logger)

	breaker := risk.NewCircuitBreaker(risk.CircuitConfig{MaxConsecutiveLosses: 5})
	gate := risk.NewBasicGate(risk.GateConfig{
		MaxOpenPositions: 5,
		MinBalance:       decimal.NewFromInt(100),
	}, breaker, logger)
	bus.SubscribeState(gate)

	engine := paper.NewEngine(paper.DefaultConfig(), bus, gate, nil, logger)

	validator := signal.NewValidator(signal.ValidatorConfig{
		MinConfidence:     0.7,
		Cooldown:          time.Millisecond,
		MaxSignalsPerHour: 1000,
	}, logger)
	sigEngine := signal.NewEngine(signal.Options{MinHistory: 50}, validator, logger)
	sigEngine.RegisterStrategy("surge", surge{}, map[string]float64{"trigger": 50100})
	sigEngine.OnSignal(engine)

	cfg := config.StreamConfig{
		PublicURL:             "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconnectDelaySeconds: 1,
		ReconnectMaxAttempts:  5,
	}
	transport := stream.NewTransport(cfg, logger)
	defer transport.Stop()

	transport.OnMessage("tickers.", func(topic string, data []byte) {
		var tick struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			Volume24h string `json:"volume24h"`
		}
		if err := json.Unmarshal(data, &tick); err != nil {
			return
		}
		price, err := decimal.NewFromString(tick.LastPrice)
		if err != nil {
			return
		}

		engine.UpdateMark(tick.Symbol, price)
		sigEngine.UpdateMarketData(tick.Symbol, price.InexactFloat64(), 1)
		sigEngine.GenerateSignals(tick.Symbol)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, transport.Subscribe(ctx, core.ChannelPublic, "tickers.BTCUSDT"))

	conn := <-connCh

	// 50 quiet ticks to satisfy the history floor, then a surge.
	push := func(price string) {
		frame := map[string]interface{}{
			"topic": "tickers.BTCUSDT",
			"data": map[string]string{
				"symbol":    "BTCUSDT",
				"lastPrice": price,
				"volume24h": "1000",
			},
		}
		require.NoError(t, conn.WriteJSON(frame))
	}
	for i := 0; i < 50; i++ {
		push("50000")
	}
	push("50200")

	deadline := time.Now().Add(3 * time.Second)
	var pos core.Position
	var ok bool
	for time.Now().Before(deadline) {
		if pos, ok = engine.Position("BTCUSDT"); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.True(t, ok, "surge tick should have opened a position")
	assert.Equal(t, core.SideBuy, pos.Side)
	// 10000 * 0.10 / 50200 = 0.019920... floored to 0.019
	assert.True(t, pos.Size.Equal(decimal.NewFromFloat(0.019)), "size %s", pos.Size)
	assert.True(t, engine.Balance().LessThan(decimal.NewFromInt(10000)), "commission was charged")
}

// TestLimitOrderPolling verifies the resting-order poller end to end.
func TestLimitOrderPolling(t *testing.T) {
	logger := logging.NewNop()
	bus := events.NewBus(logger)

	cfg := paper.DefaultConfig()
	cfg.LimitPollInterval = 5 * time.Millisecond
	engine := paper.NewEngine(cfg, bus, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	engine.UpdateMark("ETHUSDT", decimal.NewFromInt(3000))
	order, err := engine.CreateOrder("ETHUSDT", core.SideBuy, core.OrderKindLimit,
		decimal.NewFromFloat(0.5), decimal.NewFromInt(2950))
	require.NoError(t, err)

	engine.UpdateMark("ETHUSDT", decimal.NewFromInt(2940))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := engine.GetOrder(order.ID)
		require.NoError(t, err)
		if got.Status == core.OrderStatusFilled {
			assert.True(t, got.AvgFillPrice.Equal(decimal.NewFromInt(2940)))
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("limit order never filled")
}
