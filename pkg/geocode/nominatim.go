package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geocode-pipeline/internal/resilience"
)

const (
	nominatimSearchURL  = "https://nominatim.openstreetmap.org/search"
	nominatimReverseURL = "https://nominatim.openstreetmap.org/reverse"
	nominatimMaxResults = 5
)

// NominatimProvider geocodes against a Nominatim (OpenStreetMap) instance.
type NominatimProvider struct {
	cfg clientConfig
}

// NewNominatimProvider creates the primary Nominatim-backed provider.
// Nominatim's public instance allows 1 req/s; callers pointing at a private
// instance can raise the limit via WithRateLimit.
func NewNominatimProvider(opts ...Option) *NominatimProvider {
	cfg := newClientConfig(1, opts...)
	if cfg.userAgent == "" {
		cfg.userAgent = "geocode-pipeline/1.0"
	}
	return &NominatimProvider{cfg: cfg}
}

// Name implements Provider.
func (p *NominatimProvider) Name() string { return "nominatim" }

// nominatimPlace is one element of a Nominatim jsonv2 response.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		Road       string `json:"road"`
		City       string `json:"city"`
		Town       string `json:"town"`
		Village    string `json:"village"`
		State      string `json:"state"`
		StateCode  string `json:"ISO3166-2-lvl4"`
		Postcode   string `json:"postcode"`
		CountryISO string `json:"country_code"`
	} `json:"address"`
}

// Geocode implements Provider using the Nominatim search endpoint.
func (p *NominatimProvider) Geocode(ctx context.Context, query string) ([]Candidate, error) {
	params := url.Values{
		"q":              {query},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
		"limit":          {strconv.Itoa(nominatimMaxResults)},
	}
	body, err := p.get(ctx, nominatimSearchURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}

	candidates := make([]Candidate, 0, len(places))
	for _, place := range places {
		candidates = append(candidates, place.toCandidate())
	}
	return candidates, nil
}

// ReverseGeocode implements Provider using the Nominatim reverse endpoint,
// which returns at most one place.
func (p *NominatimProvider) ReverseGeocode(ctx context.Context, lat, lon float64) ([]Candidate, error) {
	params := url.Values{
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', -1, 64)},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
	}
	body, err := p.get(ctx, nominatimReverseURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var place nominatimPlace
	if err := json.Unmarshal(body, &place); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse reverse response")
	}
	if place.Lat == "" && place.Lon == "" {
		return nil, nil
	}
	return []Candidate{place.toCandidate()}, nil
}

func (p *NominatimProvider) get(ctx context.Context, reqURL string) ([]byte, error) {
	if err := p.cfg.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("User-Agent", p.cfg.userAgent)

	resp, err := p.cfg.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim read body")
	}
	return body, nil
}

func (pl nominatimPlace) toCandidate() Candidate {
	c := Candidate{
		PostalCode:       pl.Address.Postcode,
		StreetName:       pl.Address.Road,
		Locality:         pl.locality(),
		FormattedAddress: pl.DisplayName,
	}

	if pl.Address.State != "" || pl.Address.StateCode != "" {
		c.AdminLevels = []AdminLevel{{
			Name: pl.Address.State,
			Code: stripISOPrefix(pl.Address.StateCode),
		}}
	}

	lat, latErr := strconv.ParseFloat(pl.Lat, 64)
	lon, lonErr := strconv.ParseFloat(pl.Lon, 64)
	if latErr == nil && lonErr == nil {
		c.Coordinates = &Coordinates{Latitude: lat, Longitude: lon}
	}
	return c
}

func (pl nominatimPlace) locality() string {
	for _, loc := range []string{pl.Address.City, pl.Address.Town, pl.Address.Village} {
		if loc != "" {
			return loc
		}
	}
	return ""
}

// stripISOPrefix converts an ISO 3166-2 code like "US-IL" to "IL".
func stripISOPrefix(code string) string {
	if i := strings.Index(code, "-"); i >= 0 {
		return code[i+1:]
	}
	return code
}
