package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"papertrader/internal/config"
	"papertrader/internal/core"
	apperrors "papertrader/pkg/errors"
	pkghttp "papertrader/pkg/http"

	"github.com/shopspring/decimal"
)

// RestClient covers the REST surface the simulator needs: signed price
// snapshots used to seed indicators and mark limit orders when the stream
// is quiet.
type RestClient struct {
	http   *pkghttp.Client
	logger core.ILogger
}

// NewRestClient builds a signed REST client from the stream credentials.
func NewRestClient(cfg config.StreamConfig, logger core.ILogger) *RestClient {
	var signer pkghttp.Signer
	if cfg.APIKey != "" {
		signer = NewRestSigner(cfg.APIKey, cfg.SecretKey, cfg.RecvWindow)
	}
	return &RestClient{
		http:   pkghttp.NewClient(cfg.RestURL, 10*time.Second, signer),
		logger: logger.WithField("component", "rest"),
	}
}

type tickerResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			Volume24h string `json:"volume24h"`
		} `json:"list"`
	} `json:"result"`
}

// LatestPrice fetches the last traded price for a symbol.
func (c *RestClient) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := c.http.Get(ctx, "/v5/market/tickers", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	})
	if err != nil {
		return decimal.Zero, err
	}

	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", apperrors.ErrDecodeFailed, err)
	}
	if resp.RetCode != 0 {
		return decimal.Zero, fmt.Errorf("ticker request rejected: %s", resp.RetMsg)
	}
	if len(resp.Result.List) == 0 {
		return decimal.Zero, apperrors.ErrNoPrice
	}

	price, err := decimal.NewFromString(resp.Result.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad price %q", apperrors.ErrDecodeFailed, resp.Result.List[0].LastPrice)
	}
	return price, nil
}
