package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPQuoteSource polls a REST endpoint for the SOL/USD price, the same
// http.Client-with-timeout shape the teacher uses for its Solana RPC calls.
type HTTPQuoteSource struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPQuoteSource builds a QuoteSource against a JSON REST endpoint
// expected to respond with {"price": <float>}.
func NewHTTPQuoteSource(endpoint string) *HTTPQuoteSource {
	return &HTTPQuoteSource{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SolUSD implements QuoteSource.
func (h *HTTPQuoteSource) SolUSD(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("pricing: build request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("pricing: fetch sol/usd: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("pricing: decode sol/usd response: %w", err)
	}

	return payload.Price, nil
}
