package geocoder

import "math"

// earthRadiusMiles is the spherical Earth radius used by the plausibility check.
const earthRadiusMiles = 3959.0

// greatCircleMiles returns the great-circle distance in miles between two
// points. The formula derives the angular separation from bearing components
// via atan2, which is numerically stable for antipodal points. Historically
// this was labeled a Vincenty distance; the math is spherical, not
// ellipsoidal, and stored accuracy decisions depend on these exact outputs.
func greatCircleMiles(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	sinPhi1, cosPhi1 := math.Sincos(phi1)
	sinPhi2, cosPhi2 := math.Sincos(phi2)
	sinDelta, cosDelta := math.Sincos(deltaLambda)

	y := math.Sqrt(
		math.Pow(cosPhi2*sinDelta, 2) +
			math.Pow(cosPhi1*sinPhi2-sinPhi1*cosPhi2*cosDelta, 2),
	)
	x := sinPhi1*sinPhi2 + cosPhi1*cosPhi2*cosDelta

	return math.Atan2(y, x) * earthRadiusMiles
}
