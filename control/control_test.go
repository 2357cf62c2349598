package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	privacy bool
	input   string
	healthy bool
}

func (f *fakeEngine) SetPrivacy(v bool)          { f.privacy = v }
func (f *fakeEngine) PrivacyAsserted() bool      { return f.privacy }
func (f *fakeEngine) ManualInput() string        { return f.input }
func (f *fakeEngine) Healthy() bool              { return f.healthy }
func (f *fakeEngine) SetManualInput(s string) error {
	f.input = s
	return nil
}

func TestPostPrivacyUpdatesEngine(t *testing.T) {
	eng := &fakeEngine{}
	srv := New(eng)

	body, _ := json.Marshal(privacyBody{Asserted: true})
	req := httptest.NewRequest(http.MethodPost, "/privacy", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, eng.privacy)
}

func TestHealthReflectsEngineState(t *testing.T) {
	eng := &fakeEngine{healthy: false}
	srv := New(eng)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	eng.healthy = true
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusOK, rec2.Code)
}
