package geocoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGreatCircleMiles(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"same point", 39.7817, -89.6501, 39.7817, -89.6501, 0},
		{"springfield to chicago", 39.7817, -89.6501, 41.8781, -87.6298, 179.26},
		{"within a zip", 39.7817, -89.6501, 39.80, -89.66, 1.37},
		{"new york to london", 40.7128, -74.0060, 51.5074, -0.1278, 3461.39},
		{"antipodal on equator", 0, 0, 0, 180, 12437.57},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := greatCircleMiles(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.want, got, 0.01)
		})
	}
}

func TestGreatCircleMiles_Symmetric(t *testing.T) {
	a := greatCircleMiles(39.7817, -89.6501, 41.8781, -87.6298)
	b := greatCircleMiles(41.8781, -87.6298, 39.7817, -89.6501)
	assert.InDelta(t, a, b, 1e-9)
}
