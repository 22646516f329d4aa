// Package gasoracle provides a middleware layer that prices transaction
// drafts from a pluggable gas price source behind a short-lived cache.
package gasoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/sirupsen/logrus"
)

// HTTPSourceConfig holds settings for a remote gas estimation endpoint.
type HTTPSourceConfig struct {
	// URL of the estimation endpoint, queried with GET
	URL string

	// RequestTimeout bounds each request, defaults to 10 seconds
	RequestTimeout time.Duration

	// Logger instance, a default logger is created when nil
	Logger *logrus.Logger
}

// HTTPSource fetches prices from a remote JSON endpoint. The endpoint is
// expected to answer with per-category gwei values:
//
//	{"fast": 42.5, "standard": 30.0, "slow": 21.0}
type HTTPSource struct {
	config HTTPSourceConfig
	client *http.Client
	log    *logrus.Logger
}

// NewHTTPSource creates a source over a remote estimation endpoint.
func NewHTTPSource(config HTTPSourceConfig) *HTTPSource {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	log := config.Logger
	if log == nil {
		log = logrus.New()
	}
	return &HTTPSource{
		config: config,
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
		log: log,
	}
}

// Price fetches the endpoint's estimate for the category and converts it from
// gwei to wei.
func (s *HTTPSource) Price(ctx context.Context, category Category) (*big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	s.log.WithFields(logrus.Fields{
		"endpoint": s.config.URL,
		"category": string(category),
	}).Debug("Fetching remote gas estimate")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WithError(err).Debug("Gas estimate request failed")
		return nil, fmt.Errorf("error fetching gas estimate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gas estimate endpoint returned status %d", resp.StatusCode)
	}

	var estimate struct {
		Fast     float64 `json:"fast"`
		Standard float64 `json:"standard"`
		Slow     float64 `json:"slow"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&estimate); err != nil {
		return nil, fmt.Errorf("error decoding gas estimate: %w", err)
	}

	var gwei float64
	switch category {
	case CategoryFast:
		gwei = estimate.Fast
	case CategoryStandard:
		gwei = estimate.Standard
	case CategorySlow:
		gwei = estimate.Slow
	default:
		return nil, fmt.Errorf("unknown price category %q", category)
	}
	if gwei <= 0 {
		return nil, fmt.Errorf("gas estimate endpoint returned no price for category %q", category)
	}

	return gweiToWei(gwei), nil
}

// gweiToWei converts a fractional gwei amount to integer wei.
func gweiToWei(gwei float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(params.GWei)).Int(nil)
	return wei
}
