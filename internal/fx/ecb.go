// Package fx fetches EUR based reference rates.
package fx

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	domain "github.com/op17/storefront-api/internal/domain"
)

// DefaultECBURL is the daily euro foreign exchange reference rate feed.
const DefaultECBURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"

// Source is recorded on every stored rate.
const Source = "ECB"

var (
	// ErrFetchFailed reports a transport failure or non-2xx response.
	ErrFetchFailed = errors.New("fx: ecb fetch failed")
	// ErrMalformedFeed reports a feed without a date or parseable rates.
	ErrMalformedFeed = errors.New("fx: malformed ecb feed")
)

// Rates is one daily snapshot.
type Rates struct {
	AsOf  time.Time
	Rates map[domain.Currency]*big.Rat
}

// ECBConfig configures the ECBClient.
type ECBConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ECBClient downloads and parses the ECB daily feed.
type ECBClient struct {
	client *resty.Client
	url    string
}

// NewECBClient constructs a client; zero values fall back to the public feed and a 10s timeout.
func NewECBClient(cfg ECBConfig) *ECBClient {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultECBURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetTimeout(timeout).
		SetHeader("User-Agent", "op17-shop-fx-updater").
		SetHeader("Cache-Control", "no-store")
	return &ECBClient{client: client, url: url}
}

type ecbEnvelope struct {
	Cube struct {
		Days []struct {
			Time  string `xml:"time,attr"`
			Rates []struct {
				Currency string `xml:"currency,attr"`
				Rate     string `xml:"rate,attr"`
			} `xml:"Cube"`
		} `xml:"Cube"`
	} `xml:"Cube"`
}

// Fetch downloads the current feed.
func (c *ECBClient) Fetch(ctx context.Context) (Rates, error) {
	resp, err := c.client.R().SetContext(ctx).Get(c.url)
	if err != nil {
		return Rates{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if resp.IsError() {
		return Rates{}, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode())
	}
	return ParseECB(resp.Body())
}

// ParseECB decodes the eurofxref XML document. Only the first dated cube is read.
func ParseECB(body []byte) (Rates, error) {
	var envelope ecbEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return Rates{}, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}
	if len(envelope.Cube.Days) == 0 {
		return Rates{}, fmt.Errorf("%w: date not found", ErrMalformedFeed)
	}
	day := envelope.Cube.Days[0]
	asOf, err := time.Parse("2006-01-02", strings.TrimSpace(day.Time))
	if err != nil {
		return Rates{}, fmt.Errorf("%w: date %q", ErrMalformedFeed, day.Time)
	}
	out := Rates{AsOf: asOf.UTC(), Rates: make(map[domain.Currency]*big.Rat, len(day.Rates))}
	for _, entry := range day.Rates {
		code := strings.ToUpper(strings.TrimSpace(entry.Currency))
		if len(code) != 3 {
			continue
		}
		rate, err := domain.ParseRate(entry.Rate)
		if err != nil {
			continue
		}
		out.Rates[domain.Currency(code)] = rate
	}
	return out, nil
}
