package geocoder

import (
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/geocode-pipeline/internal/model"
	"github.com/sells-group/geocode-pipeline/pkg/geocode"
)

// JobStore is the persistence surface the geocoding job needs.
type JobStore interface {
	SaveGeocodeResult(ctx context.Context, id int64, res model.GeocodeResult) error
	SetGeocodeStatus(ctx context.Context, id int64, status model.GeocodeStatus) error
}

// Job runs the orchestrator for one address and persists the outcome.
type Job struct {
	orch  Runner
	store JobStore
}

// Runner abstracts the orchestrator for testing.
type Runner interface {
	Run(ctx context.Context, snap model.Snapshot) (*Outcome, error)
}

// NewJob creates a geocoding job around the given orchestrator and store.
func NewJob(orch Runner, store JobStore) *Job {
	return &Job{orch: orch, store: store}
}

// Process geocodes a single address and persists the result. It returns
// true on success. On failure the address is marked GEOCODING_ERROR, the
// error is logged in full, and false is returned; a false return means
// "already logged, no further action needed". Re-queuing is the caller's
// responsibility.
func (j *Job) Process(ctx context.Context, addr *model.Address) bool {
	log := zap.L().With(
		zap.String("component", "geocode.job"),
		zap.Int64("address_id", addr.ID),
	)

	snap := model.SnapshotFromAddress(addr)

	outcome, err := j.orch.Run(ctx, snap)
	if err != nil {
		log.Error("geocoding failed", zap.Error(err))
		if storeErr := j.store.SetGeocodeStatus(ctx, addr.ID, model.GeocodingError); storeErr != nil {
			log.Error("failed to persist geocoding error status", zap.Error(storeErr))
		}
		return false
	}

	payload, err := json.Marshal(outcome.Candidate)
	if err != nil {
		// Candidate is a plain struct; this only fires on programmer error.
		log.Error("failed to marshal geocode payload", zap.Error(err))
		payload = nil
	}

	res := model.GeocodeResult{
		Accuracy: outcome.Accuracy,
		Status:   model.Geocoded,
		Payload:  payload,
	}
	if !addr.UserGeocoded && outcome.Candidate.HasCoordinates() {
		res.SetCoordinates = true
		res.Latitude = formatCoordinate(outcome.Candidate.Coordinates.Latitude)
		res.Longitude = formatCoordinate(outcome.Candidate.Coordinates.Longitude)
	} else {
		// User-supplied coordinates are never overwritten; only the
		// accuracy bookkeeping is refreshed.
		res.Accuracy = model.AccuracyNone
	}

	if err := j.store.SaveGeocodeResult(ctx, addr.ID, res); err != nil {
		log.Error("failed to persist geocode result", zap.Error(err))
		return false
	}

	log.Info("address geocoded",
		zap.Int("accuracy", int(res.Accuracy)),
		zap.Bool("coordinates_updated", res.SetCoordinates),
	)
	return true
}

// Coordinates returns the address's coordinates, reusing the stored raw
// geocode payload when its postal code still matches the address's current
// zip. A stale payload from a different zip is bypassed and the
// orchestrator is invoked instead. The fresh result is not persisted here;
// Process owns persistence.
func (j *Job) Coordinates(ctx context.Context, addr *model.Address) (lat, lon string, err error) {
	if lat, lon, ok := cachedCoordinates(addr); ok {
		return lat, lon, nil
	}

	outcome, err := j.orch.Run(ctx, model.SnapshotFromAddress(addr))
	if err != nil {
		return "", "", err
	}
	if !outcome.Candidate.HasCoordinates() {
		return "", "", ErrNoMatch
	}
	return formatCoordinate(outcome.Candidate.Coordinates.Latitude),
		formatCoordinate(outcome.Candidate.Coordinates.Longitude), nil
}

// cachedCoordinates inspects the stored raw geocode payload and returns its
// coordinates when the payload's postal code matches the address's current
// zip. No TTL is enforced; this is an opportunistic avoid-recompute check,
// not a correctness guarantee.
func cachedCoordinates(addr *model.Address) (lat, lon string, ok bool) {
	if len(addr.GeocodingData) == 0 {
		return "", "", false
	}

	var cached geocode.Candidate
	if err := json.Unmarshal(addr.GeocodingData, &cached); err != nil {
		return "", "", false
	}
	if cached.PostalCode == "" || model.NormalizeZip(cached.PostalCode) != model.NormalizeZip(addr.ZipCode) {
		return "", "", false
	}
	if !cached.HasCoordinates() {
		return "", "", false
	}

	return formatCoordinate(cached.Coordinates.Latitude),
		formatCoordinate(cached.Coordinates.Longitude), true
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
