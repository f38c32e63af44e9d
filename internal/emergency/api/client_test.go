// internal/emergency/api/client_test.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"maternalhub-agent/internal/common/logger"
	"maternalhub-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

// testEndpoints points every endpoint at one httptest server.
type testEndpoints struct {
	base string
}

func (e testEndpoints) AlertURL() string { return e.base + "/emergency/alert" }

func (e testEndpoints) StatusURL(id string) string {
	return fmt.Sprintf("%s/emergency/%s/status", e.base, id)
}

func (e testEndpoints) CancelURL(id string) string {
	return fmt.Sprintf("%s/emergency/%s/cancel", e.base, id)
}

func createClient(t *testing.T, server *httptest.Server, token string) *HTTPClient {
	return NewHTTPClient(
		testEndpoints{base: server.URL},
		func() string { return token },
		5*time.Second,
		logger.NewTestLogger(t),
	)
}

func createAlertRequest() *AlertRequest {
	return &AlertRequest{
		UserData: models.RequesterInfo{
			Name:   "Amina Yusuf",
			Phone:  "+2348012345678",
			Email:  "amina@example.com",
			Age:    29,
			Gender: "female",
		},
		Location:  &models.Location{Lat: 6.5244, Lng: 3.3792},
		Timestamp: "2024-05-01T10:00:00Z",
	}
}

// ==========================
// SendAlert Tests
// ==========================

func TestHTTPClient_SendAlert_Success(t *testing.T) {
	var gotAuth, gotRequestID, gotContentType string
	var gotBody AlertRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/emergency/alert", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-Id")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(AlertResponse{
			EmergencyID: "em-42",
			Hospitals: []models.Hospital{
				{ID: "h-1", Name: "St. Mary Hospital", EmergencyPhone: "+2348000000001"},
				{ID: "h-2", Name: "City General"},
			},
			AlertedHospitals: []string{"h-1", "h-2"},
		})
	}))
	defer server.Close()

	client := createClient(t, server, "tok-abc")
	response, err := client.SendAlert(context.Background(), createAlertRequest())

	require.NoError(t, err)
	assert.Equal(t, "em-42", response.EmergencyID)
	assert.Len(t, response.Hospitals, 2)

	assert.Equal(t, "Bearer tok-abc", gotAuth)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Amina Yusuf", gotBody.UserData.Name)
	require.NotNil(t, gotBody.Location)
	assert.InDelta(t, 6.5244, gotBody.Location.Lat, 0.0001)
}

func TestHTTPClient_SendAlert_MissingEmergencyID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"hospitals": []string{}})
	}))
	defer server.Close()

	client := createClient(t, server, "tok")
	_, err := client.SendAlert(context.Background(), createAlertRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no emergencyId")
}

func TestHTTPClient_SendAlert_NoTokenOmitsAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(AlertResponse{EmergencyID: "em-1"})
	}))
	defer server.Close()

	client := createClient(t, server, "")
	_, err := client.SendAlert(context.Background(), createAlertRequest())

	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

// ==========================
// GetStatus Tests
// ==========================

func TestHTTPClient_GetStatus_Responded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/emergency/em-42/status", r.URL.Path)
		json.NewEncoder(w).Encode(StatusResponse{
			Emergency: EmergencyStatus{
				Status: models.StatusResponded,
				RespondedHospital: &RespondedHospital{
					HospitalID:     "h-1",
					Name:           "St. Mary Hospital",
					EmergencyPhone: "+2348000000001",
				},
			},
		})
	}))
	defer server.Close()

	client := createClient(t, server, "tok")
	response, err := client.GetStatus(context.Background(), "em-42")

	require.NoError(t, err)
	assert.Equal(t, models.StatusResponded, response.Emergency.Status)
	require.NotNil(t, response.Emergency.RespondedHospital)

	hospital := response.Emergency.RespondedHospital.ToHospital()
	assert.Equal(t, "h-1", hospital.ID)
	assert.Equal(t, "St. Mary Hospital", hospital.Name)
}

func TestHTTPClient_GetStatus_Pending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(StatusResponse{
			Emergency: EmergencyStatus{Status: models.StatusPending},
		})
	}))
	defer server.Close()

	client := createClient(t, server, "tok")
	response, err := client.GetStatus(context.Background(), "em-42")

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, response.Emergency.Status)
	assert.Nil(t, response.Emergency.RespondedHospital)
}

// ==========================
// Cancel Tests
// ==========================

func TestHTTPClient_Cancel_Success(t *testing.T) {
	var gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := createClient(t, server, "tok")
	err := client.Cancel(context.Background(), "em-42")

	require.NoError(t, err)
	assert.Equal(t, "/emergency/em-42/cancel", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
}

// ==========================
// Error Classification Tests
// ==========================

func TestHTTPClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		authExpired bool
		notFound    bool
		rateLimited bool
		rejection   bool
	}{
		{name: "401 is auth expired", status: http.StatusUnauthorized, authExpired: true},
		{name: "404 is not found", status: http.StatusNotFound, notFound: true},
		{name: "429 is rate limited", status: http.StatusTooManyRequests, rateLimited: true},
		{name: "422 is client rejection", status: http.StatusUnprocessableEntity, rejection: true},
		{name: "400 is client rejection", status: http.StatusBadRequest, rejection: true},
		{name: "500 is none of them", status: http.StatusInternalServerError},
		{name: "503 is none of them", status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":"nope"}`)
			}))
			defer server.Close()

			client := createClient(t, server, "tok")
			_, err := client.GetStatus(context.Background(), "em-42")

			require.Error(t, err)
			assert.Equal(t, tt.authExpired, IsAuthExpired(err))
			assert.Equal(t, tt.notFound, IsNotFound(err))
			assert.Equal(t, tt.rateLimited, IsRateLimited(err))
			assert.Equal(t, tt.rejection, IsClientRejection(err))

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Contains(t, se.Body, "nope")
		})
	}
}

func TestHTTPClient_NetworkError_IsNotStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := createClient(t, server, "tok")
	_, err := client.GetStatus(context.Background(), "em-42")

	require.Error(t, err)
	assert.False(t, IsAuthExpired(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsRateLimited(err))
	assert.False(t, IsClientRejection(err))
}
