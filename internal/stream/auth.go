package stream

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// SignWS computes the private websocket auth signature:
// HMAC_SHA256(secret, "GET/realtime" + expiresMillis), hex-encoded.
func SignWS(secretKey string, expires int64) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(fmt.Sprintf("GET/realtime%d", expires)))
	return hex.EncodeToString(mac.Sum(nil))
}

// RestSigner signs REST requests with the exchange's header scheme:
// signature = HMAC_SHA256(secret, timestamp + apiKey + recvWindow + sortedQuery).
type RestSigner struct {
	apiKey     string
	secretKey  string
	recvWindow int
}

// NewRestSigner creates a signer for the given credentials.
func NewRestSigner(apiKey, secretKey string, recvWindow int) *RestSigner {
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	return &RestSigner{
		apiKey:     apiKey,
		secretKey:  secretKey,
		recvWindow: recvWindow,
	}
}

// SignRequest adds authentication headers to the request.
func (s *RestSigner) SignRequest(req *http.Request) error {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	recvWindow := fmt.Sprintf("%d", s.recvWindow)

	payload := timestamp + s.apiKey + recvWindow + sortedQuery(req)

	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-BAPI-API-KEY", s.apiKey)
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)

	return nil
}

// sortedQuery renders the query string with keys in lexicographic order so
// the signature is stable regardless of parameter insertion order.
func sortedQuery(req *http.Request) string {
	values := req.URL.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range values[k] {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&")
}
