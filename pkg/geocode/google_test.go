package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocode-pipeline/internal/resilience"
)

const googlePrefix = "https://maps.googleapis.com/maps/api/geocode/json"

func newTestGoogle(serverURL string) *GoogleProvider {
	return NewGoogleProvider("test-key",
		WithHTTPClient(newRewriteClient(serverURL, googlePrefix)),
		WithRateLimit(1000),
	)
}

func TestGoogleProvider_Geocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "123 Main St, Springfield, IL", r.URL.Query().Get("address"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"formatted_address": "123 Main St, Springfield, IL 62704, USA",
				"geometry": {"location": {"lat": 39.7817, "lng": -89.6501}},
				"address_components": [
					{"long_name": "62704", "short_name": "62704", "types": ["postal_code"]},
					{"long_name": "Main Street", "short_name": "Main St", "types": ["route"]},
					{"long_name": "Springfield", "short_name": "Springfield", "types": ["locality", "political"]},
					{"long_name": "Illinois", "short_name": "IL", "types": ["administrative_area_level_1", "political"]}
				]
			}]
		}`))
	}))
	defer srv.Close()

	p := newTestGoogle(srv.URL)
	candidates, err := p.Geocode(context.Background(), "123 Main St, Springfield, IL")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "62704", c.PostalCode)
	assert.Equal(t, "Main Street", c.StreetName)
	assert.Equal(t, "Springfield", c.Locality)
	require.Len(t, c.AdminLevels, 1)
	assert.Equal(t, "Illinois", c.AdminLevels[0].Name)
	assert.Equal(t, "IL", c.AdminLevels[0].Code)
	require.True(t, c.HasCoordinates())
	assert.InDelta(t, 39.7817, c.Coordinates.Latitude, 1e-6)
}

func TestGoogleProvider_Geocode_ZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	}))
	defer srv.Close()

	p := newTestGoogle(srv.URL)
	candidates, err := p.Geocode(context.Background(), "nowhere at all")
	require.NoError(t, err)
	assert.Nil(t, candidates)
}

func TestGoogleProvider_Geocode_OverQueryLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "OVER_QUERY_LIMIT", "results": []}`))
	}))
	defer srv.Close()

	p := newTestGoogle(srv.URL)
	_, err := p.Geocode(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestGoogleProvider_Geocode_RequestDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "REQUEST_DENIED", "results": []}`))
	}))
	defer srv.Close()

	p := newTestGoogle(srv.URL)
	_, err := p.Geocode(context.Background(), "anything")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "REQUEST_DENIED")
}

func TestGoogleProvider_Geocode_MissingKey(t *testing.T) {
	p := NewGoogleProvider("")
	_, err := p.Geocode(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestGoogleProvider_ReverseGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "39.7817,-89.6501", r.URL.Query().Get("latlng"))
		w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"formatted_address": "Springfield, IL 62704, USA",
				"geometry": {"location": {"lat": 39.7817, "lng": -89.6501}},
				"address_components": [
					{"long_name": "Springfield", "short_name": "Springfield", "types": ["locality"]},
					{"long_name": "Illinois", "short_name": "IL", "types": ["administrative_area_level_1"]}
				]
			}]
		}`))
	}))
	defer srv.Close()

	p := newTestGoogle(srv.URL)
	candidates, err := p.ReverseGeocode(context.Background(), 39.7817, -89.6501)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "IL", candidates[0].State().Code)
}
