package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geocode-pipeline/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleProvider geocodes using the Google Geocoding API.
type GoogleProvider struct {
	cfg clientConfig
	key string
}

// NewGoogleProvider creates the Google-backed provider with the given API key.
func NewGoogleProvider(apiKey string, opts ...Option) *GoogleProvider {
	return &GoogleProvider{
		cfg: newClientConfig(50, opts...),
		key: apiKey,
	}
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return "google" }

// googleResponse is the JSON response from the Google Geocoding API.
type googleResponse struct {
	Results []googleResult `json:"results"`
	Status  string         `json:"status"`
}

type googleResult struct {
	AddressComponents []struct {
		LongName  string   `json:"long_name"`
		ShortName string   `json:"short_name"`
		Types     []string `json:"types"`
	} `json:"address_components"`
	FormattedAddress string `json:"formatted_address"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

// Geocode implements Provider using a forward address query.
func (p *GoogleProvider) Geocode(ctx context.Context, query string) ([]Candidate, error) {
	params := url.Values{
		"address": {query},
		"key":     {p.key},
	}
	return p.fetch(ctx, params)
}

// ReverseGeocode implements Provider using a latlng query.
func (p *GoogleProvider) ReverseGeocode(ctx context.Context, lat, lon float64) ([]Candidate, error) {
	params := url.Values{
		"latlng": {strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)},
		"key":    {p.key},
	}
	return p.fetch(ctx, params)
}

func (p *GoogleProvider) fetch(ctx context.Context, params url.Values) ([]Candidate, error) {
	if p.key == "" {
		return nil, eris.New("geocode: google api key not configured")
	}

	if err := p.cfg.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	reqURL := googleGeocodeURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := p.cfg.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("geocode: google returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google read body")
	}

	var googleResp googleResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	switch googleResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, resilience.NewTransientError(
			eris.Errorf("geocode: google status %s", googleResp.Status), 0)
	default:
		return nil, eris.Errorf("geocode: google status %s", googleResp.Status)
	}

	candidates := make([]Candidate, 0, len(googleResp.Results))
	for _, r := range googleResp.Results {
		candidates = append(candidates, r.toCandidate())
	}
	return candidates, nil
}

func (r googleResult) toCandidate() Candidate {
	c := Candidate{
		FormattedAddress: r.FormattedAddress,
		Coordinates: &Coordinates{
			Latitude:  r.Geometry.Location.Lat,
			Longitude: r.Geometry.Location.Lng,
		},
	}
	for _, comp := range r.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "postal_code":
				c.PostalCode = comp.LongName
			case "route":
				c.StreetName = comp.LongName
			case "locality":
				c.Locality = comp.LongName
			case "administrative_area_level_1":
				c.AdminLevels = append(c.AdminLevels, AdminLevel{
					Name: comp.LongName,
					Code: comp.ShortName,
				})
			}
		}
	}
	return c
}
