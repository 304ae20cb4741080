package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMux_HealthEndpoint(t *testing.T) {
	mux := buildMux(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestBuildMux_StatusEndpoint(t *testing.T) {
	mock := newStatsMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM addresses`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT geocoded, COUNT\(\*\) FROM addresses GROUP BY geocoded`).
		WillReturnRows(pgxmock.NewRows([]string{"geocoded", "count"}).AddRow(1, 3))
	mock.ExpectQuery(`SELECT verified, COUNT\(\*\) FROM addresses GROUP BY verified`).
		WillReturnRows(pgxmock.NewRows([]string{"verified", "count"}).AddRow(0, 3))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM geocode_queue GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).AddRow("done", 3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM verified_addresses`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(100))

	mux := buildMux(mock)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var stats pipelineStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalAddresses)
	assert.Equal(t, 100, stats.ReferenceRows)
	assert.Equal(t, map[string]int{"geocoded": 3}, stats.Geocoded)
}

func TestBuildMux_StatusEndpoint_CollectFailure(t *testing.T) {
	mock := newStatsMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM addresses`).
		WillReturnError(errors.New("db down"))

	mux := buildMux(mock)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "status collection failed")
}
