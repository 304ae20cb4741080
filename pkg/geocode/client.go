// Package geocode provides address geocoding via pluggable HTTP providers.
// Two interchangeable backends are included: Nominatim (primary) and the
// Google Geocoding API (secondary).
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Provider represents a single geocoding backend. Both forward and reverse
// lookups return the full candidate list in provider order; index 0 is the
// provider's own best guess.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string) ([]Candidate, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) ([]Candidate, error)
}

// Coordinates is a geographic point returned by a provider.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AdminLevel is a political subdivision (state/province) attached to a
// candidate, carrying both the full name and the short code.
type AdminLevel struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Candidate is a single geocode result. Coordinates is nil when the
// provider matched a place without resolving a point.
type Candidate struct {
	PostalCode       string       `json:"postalCode"`
	StreetName       string       `json:"streetName,omitempty"`
	Locality         string       `json:"locality"`
	FormattedAddress string       `json:"formattedAddress"`
	AdminLevels      []AdminLevel `json:"adminLevels,omitempty"`
	Coordinates      *Coordinates `json:"coordinates,omitempty"`
}

// HasCoordinates reports whether the candidate resolved to a point.
func (c Candidate) HasCoordinates() bool {
	return c.Coordinates != nil
}

// State returns the candidate's first admin level, or a zero AdminLevel
// when the provider attached none.
func (c Candidate) State() AdminLevel {
	if len(c.AdminLevels) == 0 {
		return AdminLevel{}
	}
	return c.AdminLevels[0]
}

// Option configures a provider client.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// WithHTTPClient sets a custom HTTP client for provider requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second rate limit for provider calls.
func WithRateLimit(rps float64) Option {
	return func(c *clientConfig) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent sets the User-Agent header sent to the provider. Nominatim's
// usage policy requires an identifying agent.
func WithUserAgent(ua string) Option {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

func newClientConfig(defaultRPS float64, opts ...Option) clientConfig {
	c := clientConfig{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(defaultRPS), 1),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
