// Package model defines the address entities shared across the geocoding
// and verification pipeline.
package model

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// GeocodeStatus reflects the outcome of the most recent geocode attempt.
type GeocodeStatus int

const (
	NotGeocoded    GeocodeStatus = 0
	Geocoded       GeocodeStatus = 1
	GeocodingError GeocodeStatus = 2
	// GeocodingRefused is set by operators in the surrounding CRM to
	// exclude an address from geocoding; the pipeline reads it but never
	// assigns it.
	GeocodingRefused GeocodeStatus = 3
)

// String returns the status label used in logs and the status command.
func (s GeocodeStatus) String() string {
	switch s {
	case NotGeocoded:
		return "not_geocoded"
	case Geocoded:
		return "geocoded"
	case GeocodingError:
		return "geocoding_error"
	case GeocodingRefused:
		return "geocoding_refused"
	default:
		return "unknown"
	}
}

// VerifyStatus reflects the state-verification outcome for an address.
type VerifyStatus int

const (
	NotVerified VerifyStatus = 0
	Verified    VerifyStatus = 1
	VerifyError VerifyStatus = 2
)

// String returns the status label used in logs and the status command.
func (s VerifyStatus) String() string {
	switch s {
	case NotVerified:
		return "not_verified"
	case Verified:
		return "verified"
	case VerifyError:
		return "verify_error"
	default:
		return "unknown"
	}
}

// Accuracy is a categorical tier describing how much of the input address
// had to be dropped to obtain a geocode match, or how implausible the match
// was relative to the verified reference.
type Accuracy int

const (
	AccuracyNone                   Accuracy = 0
	AccuracyTooFar                 Accuracy = 10
	AccuracyWithoutAddressAndState Accuracy = 30
	AccuracyWithoutAddress         Accuracy = 50
	AccuracyWithoutState           Accuracy = 80
	AccuracyFull                   Accuracy = 99
)

// Address is a physical location row owned by the surrounding application.
// Latitude/Longitude are stored as strings and are empty when unset.
type Address struct {
	ID             int64
	AddressLine1   string
	AddressLine2   string
	City           string
	State          string
	ZipCode        string
	Country        string
	Latitude       string
	Longitude      string
	CoordsAccuracy Accuracy
	Geocoded       GeocodeStatus
	GeocodingData  []byte // raw provider payload from the last successful geocode
	UserGeocoded   bool
	Verified       VerifyStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// VerifiedAddress is one row of the trusted (country, zip) reference table.
type VerifiedAddress struct {
	Country   string
	ZipCode   string
	City      string
	State     string
	County    string
	Latitude  float64
	Longitude float64
}

// Snapshot is the immutable address value consumed by the orchestrator.
// All internal geocoding logic operates on this type only.
type Snapshot struct {
	AddressLine  string
	City         string
	State        string
	ZipCode      string
	Country      string
	Latitude     string
	Longitude    string
	UserGeocoded bool
}

// SnapshotFromAddress builds an orchestrator snapshot from a persisted
// address, applying the job-level normalization rules: the city is
// title-cased when stored in all caps and the zip is truncated at the
// first "-".
func SnapshotFromAddress(a *Address) Snapshot {
	return Snapshot{
		AddressLine:  strings.TrimSpace(a.AddressLine1),
		City:         NormalizeCity(a.City),
		State:        strings.TrimSpace(a.State),
		ZipCode:      NormalizeZip(a.ZipCode),
		Country:      strings.TrimSpace(a.Country),
		Latitude:     a.Latitude,
		Longitude:    a.Longitude,
		UserGeocoded: a.UserGeocoded,
	}
}

// HasCoordinates reports whether the snapshot carries non-empty coordinates.
func (s Snapshot) HasCoordinates() bool {
	return s.Latitude != "" && s.Longitude != ""
}

var poBoxPattern = regexp.MustCompile(`(?i)^(PO BOX|P\.O\.? BOX)`)

// IsPOBox reports whether the address line is a post-office box. PO boxes
// are never sent to the provider as part of the query string.
func IsPOBox(line string) bool {
	return poBoxPattern.MatchString(strings.TrimSpace(line))
}

var titleCaser = cases.Title(language.AmericanEnglish)

// NormalizeCity title-cases a city name that was stored in all caps
// ("SPRINGFIELD" -> "Springfield"). Mixed-case input passes through.
func NormalizeCity(city string) string {
	city = strings.TrimSpace(city)
	if city == "" {
		return city
	}
	if city == strings.ToUpper(city) && city != strings.ToLower(city) {
		return titleCaser.String(strings.ToLower(city))
	}
	return city
}

// NormalizeZip truncates a ZIP+4 code at the first "-" ("62704-1234" -> "62704").
func NormalizeZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if i := strings.Index(zip, "-"); i >= 0 {
		return zip[:i]
	}
	return zip
}
