// Package geocoder runs the multi-attempt geocoding strategy: provider
// queries with decreasing specificity, candidate scoring, and plausibility
// checks against the verified zip reference table.
package geocoder

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocode-pipeline/internal/model"
	"github.com/sells-group/geocode-pipeline/internal/resilience"
	"github.com/sells-group/geocode-pipeline/pkg/geocode"
)

// DefaultMaxDistanceMiles is the plausibility ceiling for the distance
// between a geocode result and the verified reference for its zip.
const DefaultMaxDistanceMiles = 100.0

// ErrMissingData is returned when the snapshot lacks a required field
// (address line, city, or zip). No provider call is made.
var ErrMissingData = eris.New("geocoder: address line, city, and zip are required")

// ErrNoMatch is returned when the provider produced no usable candidate
// across both attempts.
var ErrNoMatch = eris.New("geocoder: no geocode match")

// ReferenceLookup reads the trusted (country, zip) reference table.
// A nil result with nil error means no reference row exists.
type ReferenceLookup interface {
	GetVerifiedAddress(ctx context.Context, country, zip string) (*model.VerifiedAddress, error)
}

// Outcome is the orchestrator's final answer for one address.
type Outcome struct {
	Candidate geocode.Candidate
	Accuracy  model.Accuracy
	// Distance is the miles to the verified reference, nil when no
	// reference row exists or the candidate has no coordinates.
	Distance *float64
}

// Orchestrator runs the two-attempt geocode strategy against a single
// provider and scores the results.
type Orchestrator struct {
	provider  geocode.Provider
	refs      ReferenceLookup
	maxMiles  float64
	retry     resilience.RetryConfig
	keepFirst bool
}

// OrchestratorOption configures the Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxDistanceMiles overrides the plausibility distance ceiling.
func WithMaxDistanceMiles(miles float64) OrchestratorOption {
	return func(o *Orchestrator) {
		if miles > 0 {
			o.maxMiles = miles
		}
	}
}

// WithRetryConfig overrides the per-provider-call retry policy. The attempt
// ceiling stays bounded; this hook exists mainly to add backoff between
// retries.
func WithRetryConfig(cfg resilience.RetryConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.retry = cfg
	}
}

// WithScoreKeepFirst makes same-score candidates resolve to the first one
// seen instead of the last.
func WithScoreKeepFirst(keep bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.keepFirst = keep
	}
}

// NewOrchestrator creates an Orchestrator. refs may be nil, in which case
// plausibility checking is skipped entirely.
func NewOrchestrator(provider geocode.Provider, refs ReferenceLookup, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		refs:     refs,
		maxMiles: DefaultMaxDistanceMiles,
		retry: resilience.RetryConfig{
			MaxAttempts: 3,
			// Provider failures are retried unconditionally within the
			// attempt budget; classification happens at the job level.
			ShouldRetry: func(error) bool { return true },
			OnRetry:     resilience.RetryLogger("geocode", "lookup"),
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// attempt holds the state of one provider attempt (with or without the
// state token in the query).
type attempt struct {
	candidates []geocode.Candidate
	best       geocode.Candidate
	distance   *float64
	err        error
}

func (a *attempt) succeeded() bool {
	return a.err == nil
}

// Run geocodes the snapshot and returns the best candidate with its
// accuracy tier.
func (o *Orchestrator) Run(ctx context.Context, snap model.Snapshot) (*Outcome, error) {
	if snap.AddressLine == "" || snap.City == "" || snap.ZipCode == "" {
		return nil, ErrMissingData
	}

	log := zap.L().With(
		zap.String("component", "geocoder"),
		zap.String("zip", snap.ZipCode),
	)

	ref := o.lookupReference(ctx, snap, log)

	// PO boxes are never part of the provider query.
	useAddress := !model.IsPOBox(snap.AddressLine)

	first := o.runAttempt(ctx, snap, ref, useAddress, true)

	winner := first
	withState := true

	if o.shouldRetryWithoutState(first, snap) {
		second := o.runAttempt(ctx, snap, ref, useAddress, false)

		if second.succeeded() && o.secondSupersedes(first, second, snap) {
			if first.succeeded() {
				// Re-score across both result sets combined.
				combined := append(append([]geocode.Candidate{}, first.candidates...), second.candidates...)
				second.best = bestMatch(combined, snap, o.keepFirst)
				second.distance = o.distanceTo(ref, second.best)
			}
			winner = second
			withState = false
		}

		if !first.succeeded() && !second.succeeded() {
			// Surface the attempt-2 error; fall back to attempt-1's.
			if second.err != nil {
				return nil, second.err
			}
			return nil, first.err
		}
		if !first.succeeded() && second.succeeded() {
			winner = second
			withState = false
		}
	} else if !first.succeeded() {
		return nil, first.err
	}

	acc := accuracyFor(winner.best, useAddress, withState)
	if ref != nil && winner.distance != nil && *winner.distance > o.maxMiles {
		log.Info("geocode result beyond plausible distance",
			zap.Float64("distance_miles", *winner.distance),
			zap.Float64("max_miles", o.maxMiles),
		)
		acc = model.AccuracyTooFar
	}

	return &Outcome{
		Candidate: winner.best,
		Accuracy:  acc,
		Distance:  winner.distance,
	}, nil
}

// lookupReference fetches the verified reference row for the snapshot's
// (country, zip). Absence degrades gracefully: the plausibility check is
// skipped, not failed.
func (o *Orchestrator) lookupReference(ctx context.Context, snap model.Snapshot, log *zap.Logger) *model.VerifiedAddress {
	if o.refs == nil {
		return nil
	}
	ref, err := o.refs.GetVerifiedAddress(ctx, snap.Country, snap.ZipCode)
	if err != nil {
		log.Warn("verified reference lookup failed", zap.Error(err))
		return nil
	}
	if ref == nil {
		log.Warn("no verified reference for zip",
			zap.String("country", snap.Country),
		)
	}
	return ref
}

// runAttempt executes one provider attempt, retrying transient provider
// failures up to the configured ceiling.
func (o *Orchestrator) runAttempt(ctx context.Context, snap model.Snapshot, ref *model.VerifiedAddress, useAddress, withState bool) attempt {
	candidates, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) ([]geocode.Candidate, error) {
		if snap.UserGeocoded && snap.HasCoordinates() {
			lat, lon, parseErr := parseCoordinates(snap.Latitude, snap.Longitude)
			if parseErr != nil {
				return nil, parseErr
			}
			return o.provider.ReverseGeocode(ctx, lat, lon)
		}
		return o.provider.Geocode(ctx, buildQuery(snap, useAddress, withState))
	})
	if err != nil {
		return attempt{err: err}
	}
	if len(candidates) == 0 {
		return attempt{err: ErrNoMatch}
	}

	a := attempt{candidates: candidates}
	a.best = bestMatch(candidates, snap, o.keepFirst)
	a.distance = o.distanceTo(ref, a.best)
	return a
}

// shouldRetryWithoutState decides whether to repeat the provider query with
// the state token dropped.
func (o *Orchestrator) shouldRetryWithoutState(first attempt, snap model.Snapshot) bool {
	if !first.succeeded() {
		return true
	}
	if model.NormalizeZip(first.best.PostalCode) != model.NormalizeZip(snap.ZipCode) {
		return true
	}
	if first.distance == nil {
		return true
	}
	return *first.distance > o.maxMiles
}

// secondSupersedes decides whether the without-state result replaces the
// with-state one.
func (o *Orchestrator) secondSupersedes(first, second attempt, snap model.Snapshot) bool {
	if model.NormalizeZip(second.best.PostalCode) == model.NormalizeZip(snap.ZipCode) {
		return true
	}
	if first.distance == nil {
		return true
	}
	return second.distance != nil && *second.distance < *first.distance
}

// distanceTo returns the miles from the verified reference to the candidate,
// or nil when either side lacks coordinates.
func (o *Orchestrator) distanceTo(ref *model.VerifiedAddress, c geocode.Candidate) *float64 {
	if ref == nil || !c.HasCoordinates() {
		return nil
	}
	d := greatCircleMiles(ref.Latitude, ref.Longitude, c.Coordinates.Latitude, c.Coordinates.Longitude)
	return &d
}

// accuracyFor applies the tier rules: dropping the address line caps the
// tier at WITHOUT_ADDRESS regardless of what the provider matched, and a
// missing street name on the winning candidate does the same.
func accuracyFor(best geocode.Candidate, usedAddress, withState bool) model.Accuracy {
	if !usedAddress || best.StreetName == "" {
		if withState {
			return model.AccuracyWithoutAddress
		}
		return model.AccuracyWithoutAddressAndState
	}
	if withState {
		return model.AccuracyFull
	}
	return model.AccuracyWithoutState
}

// buildQuery assembles the provider query string: [address line?] + city +
// ", " + [state?] + ", " + zip.
func buildQuery(snap model.Snapshot, useAddress, withState bool) string {
	parts := make([]string, 0, 4)
	if useAddress && snap.AddressLine != "" {
		parts = append(parts, snap.AddressLine)
	}
	if snap.City != "" {
		parts = append(parts, snap.City)
	}
	if withState && snap.State != "" {
		parts = append(parts, snap.State)
	}
	if snap.ZipCode != "" {
		parts = append(parts, snap.ZipCode)
	}
	return strings.Join(parts, ", ")
}

func parseCoordinates(lat, lon string) (float64, float64, error) {
	latF, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "geocoder: parse latitude %q", lat)
	}
	lonF, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "geocoder: parse longitude %q", lon)
	}
	return latF, lonF, nil
}
