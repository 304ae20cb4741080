package model

// GeocodeResult carries the fields the geocoding job persists after an
// attempt. When SetCoordinates is false the stored latitude/longitude
// columns are left untouched (user-geocoded protection).
type GeocodeResult struct {
	Latitude       string
	Longitude      string
	SetCoordinates bool
	Accuracy       Accuracy
	Status         GeocodeStatus
	Payload        []byte
}
