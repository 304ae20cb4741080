package geocoder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocode-pipeline/internal/model"
	"github.com/sells-group/geocode-pipeline/pkg/geocode"
)

// fakeRunner returns a scripted outcome and counts invocations.
type fakeRunner struct {
	outcome *Outcome
	err     error
	calls   int
}

func (r *fakeRunner) Run(_ context.Context, _ model.Snapshot) (*Outcome, error) {
	r.calls++
	return r.outcome, r.err
}

// fakeJobStore records persisted results and statuses.
type fakeJobStore struct {
	savedID     int64
	saved       *model.GeocodeResult
	saveErr     error
	statusID    int64
	status      *model.GeocodeStatus
	statusCalls int
}

func (s *fakeJobStore) SaveGeocodeResult(_ context.Context, id int64, res model.GeocodeResult) error {
	s.savedID = id
	s.saved = &res
	return s.saveErr
}

func (s *fakeJobStore) SetGeocodeStatus(_ context.Context, id int64, status model.GeocodeStatus) error {
	s.statusID = id
	s.status = &status
	s.statusCalls++
	return nil
}

func TestJob_Process_Success(t *testing.T) {
	candidate := nearbyCandidate()
	runner := &fakeRunner{outcome: &Outcome{Candidate: candidate, Accuracy: model.AccuracyFull}}
	store := &fakeJobStore{}
	job := NewJob(runner, store)

	addr := &model.Address{ID: 7, AddressLine1: "123 Main St", City: "Springfield", State: "IL", ZipCode: "62704"}
	ok := job.Process(context.Background(), addr)
	require.True(t, ok)

	require.NotNil(t, store.saved)
	assert.Equal(t, int64(7), store.savedID)
	assert.Equal(t, model.Geocoded, store.saved.Status)
	assert.Equal(t, model.AccuracyFull, store.saved.Accuracy)
	assert.True(t, store.saved.SetCoordinates)
	assert.Equal(t, "39.8", store.saved.Latitude)
	assert.Equal(t, "-89.66", store.saved.Longitude)

	var payload geocode.Candidate
	require.NoError(t, json.Unmarshal(store.saved.Payload, &payload))
	assert.Equal(t, "62704", payload.PostalCode)
}

func TestJob_Process_UserGeocodedKeepsCoordinates(t *testing.T) {
	runner := &fakeRunner{outcome: &Outcome{Candidate: nearbyCandidate(), Accuracy: model.AccuracyFull}}
	store := &fakeJobStore{}
	job := NewJob(runner, store)

	addr := &model.Address{
		ID: 8, AddressLine1: "123 Main St", City: "Springfield", ZipCode: "62704",
		UserGeocoded: true, Latitude: "40.0", Longitude: "-90.0",
	}
	ok := job.Process(context.Background(), addr)
	require.True(t, ok)

	require.NotNil(t, store.saved)
	assert.False(t, store.saved.SetCoordinates, "user coordinates are never overwritten")
	assert.Empty(t, store.saved.Latitude)
	assert.Equal(t, model.AccuracyNone, store.saved.Accuracy)
	assert.Equal(t, model.Geocoded, store.saved.Status)
}

func TestJob_Process_NoCoordinatesInCandidate(t *testing.T) {
	c := nearbyCandidate()
	c.Coordinates = nil
	runner := &fakeRunner{outcome: &Outcome{Candidate: c, Accuracy: model.AccuracyWithoutAddress}}
	store := &fakeJobStore{}
	job := NewJob(runner, store)

	ok := job.Process(context.Background(), &model.Address{ID: 9})
	require.True(t, ok)
	assert.False(t, store.saved.SetCoordinates)
	assert.Equal(t, model.AccuracyNone, store.saved.Accuracy)
}

func TestJob_Process_OrchestratorError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("no match")}
	store := &fakeJobStore{}
	job := NewJob(runner, store)

	ok := job.Process(context.Background(), &model.Address{ID: 10})
	assert.False(t, ok)
	require.NotNil(t, store.status)
	assert.Equal(t, int64(10), store.statusID)
	assert.Equal(t, model.GeocodingError, *store.status)
	assert.Nil(t, store.saved)
}

func TestJob_Process_SaveError(t *testing.T) {
	runner := &fakeRunner{outcome: &Outcome{Candidate: nearbyCandidate(), Accuracy: model.AccuracyFull}}
	store := &fakeJobStore{saveErr: errors.New("db down")}
	job := NewJob(runner, store)

	ok := job.Process(context.Background(), &model.Address{ID: 11})
	assert.False(t, ok)
}

func TestJob_Coordinates_UsesFreshPayload(t *testing.T) {
	payload, err := json.Marshal(nearbyCandidate())
	require.NoError(t, err)

	runner := &fakeRunner{}
	job := NewJob(runner, &fakeJobStore{})

	addr := &model.Address{ID: 12, ZipCode: "62704", GeocodingData: payload}
	lat, lon, err := job.Coordinates(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, "39.8", lat)
	assert.Equal(t, "-89.66", lon)
	assert.Zero(t, runner.calls, "a fresh payload must not trigger a re-geocode")
}

func TestJob_Coordinates_StalePayloadRecomputes(t *testing.T) {
	payload, err := json.Marshal(nearbyCandidate())
	require.NoError(t, err)

	runner := &fakeRunner{outcome: &Outcome{Candidate: geocode.Candidate{
		PostalCode:  "60601",
		Coordinates: &geocode.Coordinates{Latitude: 41.8781, Longitude: -87.6298},
	}}}
	store := &fakeJobStore{}
	job := NewJob(runner, store)

	// Zip changed since the payload was stored.
	addr := &model.Address{ID: 13, AddressLine1: "1 Loop", City: "Chicago", ZipCode: "60601", GeocodingData: payload}
	lat, lon, err := job.Coordinates(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, "41.8781", lat)
	assert.Equal(t, "-87.6298", lon)
	assert.Nil(t, store.saved, "the read path does not persist")
}

func TestJob_Coordinates_ErrorPropagates(t *testing.T) {
	runner := &fakeRunner{err: errors.New("provider down")}
	job := NewJob(runner, &fakeJobStore{})

	_, _, err := job.Coordinates(context.Background(), &model.Address{ID: 14, ZipCode: "62704"})
	require.Error(t, err)
}

func TestJob_Coordinates_NoCoordinatesInOutcome(t *testing.T) {
	runner := &fakeRunner{outcome: &Outcome{Candidate: geocode.Candidate{PostalCode: "62704"}}}
	job := NewJob(runner, &fakeJobStore{})

	_, _, err := job.Coordinates(context.Background(), &model.Address{ID: 15, ZipCode: "62704"})
	assert.ErrorIs(t, err, ErrNoMatch)
}
