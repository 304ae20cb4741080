package geocoder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocode-pipeline/internal/model"
	"github.com/sells-group/geocode-pipeline/pkg/geocode"
)

// fakeProvider scripts Geocode/ReverseGeocode responses per call and
// records every query it receives.
type fakeProvider struct {
	geocodeFn    func(call int, query string) ([]geocode.Candidate, error)
	reverseFn    func(call int, lat, lon float64) ([]geocode.Candidate, error)
	geocodeCalls []string
	reverseCalls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Geocode(_ context.Context, query string) ([]geocode.Candidate, error) {
	call := len(p.geocodeCalls)
	p.geocodeCalls = append(p.geocodeCalls, query)
	if p.geocodeFn == nil {
		return nil, nil
	}
	return p.geocodeFn(call, query)
}

func (p *fakeProvider) ReverseGeocode(_ context.Context, lat, lon float64) ([]geocode.Candidate, error) {
	call := p.reverseCalls
	p.reverseCalls++
	if p.reverseFn == nil {
		return nil, nil
	}
	return p.reverseFn(call, lat, lon)
}

// fakeRefs serves verified reference rows from a map keyed by zip.
type fakeRefs struct {
	rows map[string]*model.VerifiedAddress
	err  error
}

func (r *fakeRefs) GetVerifiedAddress(_ context.Context, _, zip string) (*model.VerifiedAddress, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.rows[zip], nil
}

func springfieldRefs() *fakeRefs {
	return &fakeRefs{rows: map[string]*model.VerifiedAddress{
		"62704": {
			Country: "US", ZipCode: "62704", City: "Springfield", State: "IL",
			Latitude: 39.7817, Longitude: -89.6501,
		},
	}}
}

func springfieldSnap() model.Snapshot {
	return model.Snapshot{
		AddressLine: "123 Main St",
		City:        "Springfield",
		State:       "IL",
		ZipCode:     "62704",
		Country:     "US",
	}
}

// nearbyCandidate is a strong match about 1.4 miles from the reference.
func nearbyCandidate() geocode.Candidate {
	return geocode.Candidate{
		PostalCode:       "62704",
		StreetName:       "Main Street",
		Locality:         "Springfield",
		FormattedAddress: "123 Main St, Springfield, IL 62704",
		AdminLevels:      []geocode.AdminLevel{{Name: "Illinois", Code: "IL"}},
		Coordinates:      &geocode.Coordinates{Latitude: 39.80, Longitude: -89.66},
	}
}

func TestOrchestrator_MissingData(t *testing.T) {
	p := &fakeProvider{}
	o := NewOrchestrator(p, springfieldRefs())

	for _, snap := range []model.Snapshot{
		{City: "Springfield", ZipCode: "62704"},
		{AddressLine: "123 Main St", ZipCode: "62704"},
		{AddressLine: "123 Main St", City: "Springfield"},
	} {
		_, err := o.Run(context.Background(), snap)
		assert.ErrorIs(t, err, ErrMissingData)
	}
	assert.Empty(t, p.geocodeCalls, "missing data must not reach the provider")
}

func TestOrchestrator_FullMatch(t *testing.T) {
	p := &fakeProvider{
		geocodeFn: func(_ int, _ string) ([]geocode.Candidate, error) {
			return []geocode.Candidate{nearbyCandidate()}, nil
		},
	}
	o := NewOrchestrator(p, springfieldRefs())

	outcome, err := o.Run(context.Background(), springfieldSnap())
	require.NoError(t, err)

	require.Len(t, p.geocodeCalls, 1, "a plausible with-state match needs no second attempt")
	assert.Equal(t, "123 Main St, Springfield, IL, 62704", p.geocodeCalls[0])
	assert.Equal(t, model.AccuracyFull, outcome.Accuracy)
	assert.Equal(t, "62704", outcome.Candidate.PostalCode)
	require.NotNil(t, outcome.Distance)
	assert.InDelta(t, 1.37, *outcome.Distance, 0.05)
}

func TestOrchestrator_POBoxExcludedFromQuery(t *testing.T) {
	p := &fakeProvider{
		geocodeFn: func(_ int, _ string) ([]geocode.Candidate, error) {
			return []geocode.Candidate{nearbyCandidate()}, nil
		},
	}
	o := NewOrchestrator(p, springfieldRefs())

	snap := springfieldSnap()
	snap.AddressLine = "PO BOX 123"

	outcome, err := o.Run(context.Background(), snap)
	require.NoError(t, err)

	require.Len(t, p.geocodeCalls, 1)
	assert.Equal(t, "Springfield, IL, 62704", p.geocodeCalls[0])
	// The address line never reached the provider, so the tier is capped.
	assert.Equal(t, model.AccuracyWithoutAddress, outcome.Accuracy)
}

func TestOrchestrator_MissingStreetNameCapsAccuracy(t *testing.T) {
	c := nearbyCandidate()
	c.StreetName = ""
	p := &fakeProvider{
		geocodeFn: func(_ int, _ string) ([]geocode.Candidate, error) {
			return []geocode.Candidate{c}, nil
		},
	}
	o := NewOrchestrator(p, springfieldRefs())

	outcome, err := o.Run(context.Background(), springfieldSnap())
	require.NoError(t, err)
	assert.Equal(t, model.AccuracyWithoutAddress, outcome.Accuracy)
}

func TestOrchestrator_FallbackWithoutState(t *testing.T) {
	wrongZip := nearbyCandidate()
	wrongZip.PostalCode = "99999"
	wrongZip.FormattedAddress = "somewhere else"

	p := &fakeProvider{
		geocodeFn: func(call int, _ string) ([]geocode.Candidate, error) {
			if call == 0 {
				return []geocode.Candidate{wrongZip}, nil
			}
			return []geocode.Candidate{nearbyCandidate()}, nil
		},
	}
	o := NewOrchestrator(p, springfieldRefs())

	outcome, err := o.Run(context.Background(), springfieldSnap())
	require.NoError(t, err)

	require.Len(t, p.geocodeCalls, 2)
	assert.Contains(t, p.geocodeCalls[0], ", IL,")
	assert.NotContains(t, p.geocodeCalls[1], "IL")
	assert.Equal(t, "62704", outcome.Candidate.PostalCode)
	assert.Equal(t, model.AccuracyWithoutState, outcome.Accuracy)
}

func TestOrchestrator_FirstAttemptKeptWhenSecondWorse(t *testing.T) {
	good := nearbyCandidate()
	good.PostalCode = "62705" // zip mismatch forces the second attempt
	farther := nearbyCandidate()
	farther.PostalCode = "62706"
	farther.Coordinates = &geocode.Coordinates{Latitude: 41.8781, Longitude: -87.6298}

	p := &fakeProvider{
		geocodeFn: func(call int, _ string) ([]geocode.Candidate, error) {
			if call == 0 {
				return []geocode.Candidate{good}, nil
			}
			return []geocode.Candidate{farther}, nil
		},
	}
	o := NewOrchestrator(p, springfieldRefs())

	outcome, err := o.Run(context.Background(), springfieldSnap())
	require.NoError(t, err)

	// Second attempt matched neither the zip nor a smaller distance, so
	// attempt 1's candidate stands, still counted as a with-state match.
	require.Len(t, p.geocodeCalls, 2)
	assert.Equal(t, "62705", outcome.Candidate.PostalCode)
	assert.Equal(t, model.AccuracyFull, outcome.Accuracy)
}

func TestOrchestrator_TooFarOverridesTier(t *testing.T) {
	far := nearbyCandidate()
	far.Coordinates = &geocode.Coordinates{Latitude: 41.8781, Longitude: -87.6298} // ~179 miles

	p := &fakeProvider{
		geocodeFn: func(_ int, _ string) ([]geocode.Candidate, error) {
			return []geocode.Candidate{far}, nil
		},
	}
	o := NewOrchestrator(p, springfieldRefs())

	outcome, err := o.Run(context.Background(), springfieldSnap())
	require.NoError(t, err)

	// Implausible distance triggers the without-state attempt, and when it
	// comes back equally far the accuracy is overridden.
	require.Len(t, p.geocodeCalls, 2)
	assert.Equal(t, model.AccuracyTooFar, outcome.Accuracy)
	require.NotNil(t, outcome.Distance)
	assert.Greater(t, *outcome.Distance, DefaultMaxDistanceMiles)
}

func TestOrchestrator_ProviderFailureRetriedThreeTimesPerAttempt(t *testing.T) {
	p := &fakeProvider{
		geocodeFn: func(_ int, _ string) ([]geocode.Candidate, error) {
			return nil, errors.New("provider down")
		},
	}
	o := NewOrchestrator(p, springfieldRefs())

	_, err := o.Run(context.Background(), springfieldSnap())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
	assert.Len(t, p.geocodeCalls, 6, "3 retries for each of the two attempts")
}

func TestOrchestrator_EmptyResultNotRetried(t *testing.T) {
	p := &fakeProvider{} // always returns no candidates
	o := NewOrchestrator(p, springfieldRefs())

	_, err := o.Run(context.Background(), springfieldSnap())
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Len(t, p.geocodeCalls, 2, "an empty result set is a no-match, not a transient failure")
}

func TestOrchestrator_SecondAttemptRescuesFirstFailure(t *testing.T) {
	p := &fakeProvider{
		geocodeFn: func(call int, query string) ([]geocode.Candidate, error) {
			if strings.Contains(query, "IL") {
				return nil, errors.New("provider down")
			}
			return []geocode.Candidate{nearbyCandidate()}, nil
		},
	}
	o := NewOrchestrator(p, springfieldRefs())

	outcome, err := o.Run(context.Background(), springfieldSnap())
	require.NoError(t, err)
	assert.Equal(t, model.AccuracyWithoutState, outcome.Accuracy)
	// 3 failed with-state calls, then 1 successful without-state call.
	assert.Len(t, p.geocodeCalls, 4)
}

func TestOrchestrator_UserGeocodedUsesReverse(t *testing.T) {
	p := &fakeProvider{
		reverseFn: func(_ int, lat, lon float64) ([]geocode.Candidate, error) {
			assert.InDelta(t, 39.80, lat, 1e-9)
			assert.InDelta(t, -89.66, lon, 1e-9)
			return []geocode.Candidate{nearbyCandidate()}, nil
		},
	}
	o := NewOrchestrator(p, springfieldRefs())

	snap := springfieldSnap()
	snap.UserGeocoded = true
	snap.Latitude = "39.80"
	snap.Longitude = "-89.66"

	outcome, err := o.Run(context.Background(), snap)
	require.NoError(t, err)
	assert.Empty(t, p.geocodeCalls, "user-geocoded snapshots resolve by reverse lookup")
	assert.Equal(t, 1, p.reverseCalls)
	assert.Equal(t, model.AccuracyFull, outcome.Accuracy)
}

func TestOrchestrator_NoReference_DistanceNil(t *testing.T) {
	p := &fakeProvider{
		geocodeFn: func(_ int, _ string) ([]geocode.Candidate, error) {
			return []geocode.Candidate{nearbyCandidate()}, nil
		},
	}
	o := NewOrchestrator(p, &fakeRefs{})

	outcome, err := o.Run(context.Background(), springfieldSnap())
	require.NoError(t, err)

	// Without a reference the distance check is inconclusive, which forces
	// the without-state attempt; its zip match supersedes.
	assert.Len(t, p.geocodeCalls, 2)
	assert.Nil(t, outcome.Distance)
	assert.Equal(t, model.AccuracyWithoutState, outcome.Accuracy)
}

func TestOrchestrator_ReferenceLookupErrorDegrades(t *testing.T) {
	p := &fakeProvider{
		geocodeFn: func(_ int, _ string) ([]geocode.Candidate, error) {
			return []geocode.Candidate{nearbyCandidate()}, nil
		},
	}
	o := NewOrchestrator(p, &fakeRefs{err: errors.New("db down")})

	outcome, err := o.Run(context.Background(), springfieldSnap())
	require.NoError(t, err, "a reference lookup failure must not fail the geocode")
	assert.Nil(t, outcome.Distance)
}

func TestBuildQuery(t *testing.T) {
	snap := springfieldSnap()
	assert.Equal(t, "123 Main St, Springfield, IL, 62704", buildQuery(snap, true, true))
	assert.Equal(t, "123 Main St, Springfield, 62704", buildQuery(snap, true, false))
	assert.Equal(t, "Springfield, IL, 62704", buildQuery(snap, false, true))
	assert.Equal(t, "Springfield, 62704", buildQuery(snap, false, false))
}
