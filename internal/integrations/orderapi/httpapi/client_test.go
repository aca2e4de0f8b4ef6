package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
)

func TestClient_GetOrder_OK(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/orders/42", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "id": 42,
  "number": "ORD-a1b2c3d4",
  "status": "ready",
  "pickup": {"coord": {"lat": 6.9271, "lng": 79.8612}, "address": "Galle Road kitchen"},
  "delivery": {"coord": {"lat": 6.9344, "lng": 79.8428}, "address": "Marine Drive"},
  "created_at": "2025-03-01T12:00:00Z",
  "updated_at": "2025-03-01T12:00:00Z"
}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	o, err := c.GetOrder(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), o.ID)
	require.Equal(t, "ORD-a1b2c3d4", o.Number)
	require.Equal(t, lifecycle.StatusReady, o.Status)
	require.NotNil(t, o.PickupLocation.Coord)
	require.InDelta(t, 6.9271, o.PickupLocation.Coord.Lat, 1e-9)
	require.Equal(t, "Marine Drive", o.DeliveryLocation.Address)
	require.Equal(t, created, o.CreatedAt)
}

func TestClient_AdvanceStatus_SendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/orders/7/advance", r.URL.Path)

		var body struct {
			Status string `json:"status"`
			Role   string `json:"role"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "confirmed", body.Status)
		require.Equal(t, "chef", body.Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 7, "number": "ORD-deadbeef", "status": "confirmed",
  "pickup": {}, "delivery": {},
  "created_at": "2025-03-01T12:00:00Z", "updated_at": "2025-03-01T12:01:00Z"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	o, err := c.AdvanceStatus(context.Background(), 7, lifecycle.StatusConfirmed, lifecycle.RoleChef)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StatusConfirmed, o.Status)
}

func TestClient_ErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error": "illegal transition pending -> ready for role chef"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.AdvanceStatus(context.Background(), 7, lifecycle.StatusReady, lifecycle.RoleChef)
	require.Error(t, err)
	require.Contains(t, err.Error(), "http 409")
	require.Contains(t, err.Error(), "illegal transition")
}

func TestClient_StartTracking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/orders/9/tracking/start", r.URL.Path)

		var body struct {
			Position struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"position"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.InDelta(t, 6.9271, body.Position.Lat, 1e-9)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.StartTracking(context.Background(), 9, geo.Coordinate{Lat: 6.9271, Lng: 79.8612})
	require.NoError(t, err)
}
