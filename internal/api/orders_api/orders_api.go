package orders_api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
	"github.com/HomePlate/OrderTrack/internal/services/fees"
	"github.com/HomePlate/OrderTrack/internal/services/orders"
	"github.com/HomePlate/OrderTrack/internal/storage/pgorders"
)

// OrdersAPI exposes the order service over JSON.
type OrdersAPI struct {
	svc  *orders.Service
	fees *fees.Calculator
	mode geo.TravelMode
}

func New(svc *orders.Service, calc *fees.Calculator, mode geo.TravelMode) *OrdersAPI {
	if mode == "" {
		mode = geo.ModeDriving
	}
	return &OrdersAPI{svc: svc, fees: calc, mode: mode}
}

func (a *OrdersAPI) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", a.placeOrder)
		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", a.getOrder)
			r.Get("/history", a.listHistory)
			r.Get("/eligibility", a.eligibility)
			r.Get("/trip", a.tripSnapshot)
			r.Post("/cancel", a.cancel)
			r.Post("/advance", a.advance)
			r.Post("/pickup", a.pickup)
			r.Post("/tracking/start", a.startTracking)
		})
		r.Post("/fees/quote", a.feeQuote)
	})
}

type coordDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type locationDTO struct {
	Coord   *coordDTO `json:"coord,omitempty"`
	Address string    `json:"address,omitempty"`
}

type orderDTO struct {
	ID                   uint64      `json:"id"`
	Number               string      `json:"number"`
	Status               string      `json:"status"`
	Progress             int         `json:"progress"`
	Pickup               locationDTO `json:"pickup"`
	Delivery             locationDTO `json:"delivery"`
	CancellationDeadline *time.Time  `json:"cancellation_deadline,omitempty"`
	AgentPosition        *coordDTO   `json:"agent_position,omitempty"`
	AgentPositionAt      *time.Time  `json:"agent_position_at,omitempty"`
	PickedUpAt           *time.Time  `json:"picked_up_at,omitempty"`
	DeliveredAt          *time.Time  `json:"delivered_at,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

type statusEventDTO struct {
	ID        uint64    `json:"id"`
	OrderID   uint64    `json:"order_id"`
	Status    string    `json:"status"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note,omitempty"`
	Position  *coordDTO `json:"position,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toCoordDTO(c *geo.Coordinate) *coordDTO {
	if c == nil {
		return nil
	}
	return &coordDTO{Lat: c.Lat, Lng: c.Lng}
}

func toLocationDTO(l models.Location) locationDTO {
	return locationDTO{Coord: toCoordDTO(l.Coord), Address: l.Address}
}

func toLocation(d locationDTO) models.Location {
	loc := models.Location{Address: d.Address}
	if d.Coord != nil {
		loc.Coord = &geo.Coordinate{Lat: d.Coord.Lat, Lng: d.Coord.Lng}
	}
	return loc
}

func toOrderDTO(o *models.Order) orderDTO {
	return orderDTO{
		ID:                   o.ID,
		Number:               o.Number,
		Status:               string(o.Status),
		Progress:             lifecycle.Progress(o.Status),
		Pickup:               toLocationDTO(o.PickupLocation),
		Delivery:             toLocationDTO(o.DeliveryLocation),
		CancellationDeadline: o.CancellationDeadline,
		AgentPosition:        toCoordDTO(o.AgentPosition),
		AgentPositionAt:      o.AgentPositionAt,
		PickedUpAt:           o.PickedUpAt,
		DeliveredAt:          o.DeliveredAt,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

func (a *OrdersAPI) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pickup   locationDTO `json:"pickup"`
		Delivery locationDTO `json:"delivery"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"))
		return
	}

	o, err := a.svc.PlaceOrder(r.Context(), models.OrderCreateInput{
		PickupLocation:   toLocation(req.Pickup),
		DeliveryLocation: toLocation(req.Delivery),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(o))
}

func (a *OrdersAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := a.svc.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

func (a *OrdersAPI) listHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	evs, err := a.svc.ListHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]statusEventDTO, 0, len(evs))
	for _, e := range evs {
		out = append(out, statusEventDTO{
			ID:        e.ID,
			OrderID:   e.OrderID,
			Status:    string(e.Status),
			Actor:     string(e.Actor),
			Note:      e.Note,
			Position:  toCoordDTO(e.Position),
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (a *OrdersAPI) eligibility(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	el, err := a.svc.CancellationEligibility(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, el)
}

func (a *OrdersAPI) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := a.svc.RequestCancellation(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

func (a *OrdersAPI) advance(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"))
		return
	}
	to := lifecycle.Status(req.Status)
	if !to.Valid() {
		writeError(w, http.StatusBadRequest, errors.Errorf("unknown status %q", req.Status))
		return
	}

	o, err := a.svc.AdvanceStatus(r.Context(), id, to, lifecycle.Role(req.Role))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

func (a *OrdersAPI) pickup(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req struct {
		Position *coordDTO `json:"position"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"))
			return
		}
	}
	var pos *geo.Coordinate
	if req.Position != nil {
		pos = &geo.Coordinate{Lat: req.Position.Lat, Lng: req.Position.Lng}
	}

	o, err := a.svc.MarkPickedUp(r.Context(), id, pos)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

func (a *OrdersAPI) startTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req struct {
		Position coordDTO `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"))
		return
	}

	err := a.svc.StartTracking(r.Context(), id, geo.Coordinate{Lat: req.Position.Lat, Lng: req.Position.Lng})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *OrdersAPI) tripSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	mode := a.mode
	if m := r.URL.Query().Get("mode"); m != "" {
		mode = geo.TravelMode(m)
	}

	m, err := a.svc.TripSnapshot(r.Context(), id, mode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if m == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available":         true,
		"distance_km":       m.DistanceKm,
		"estimated_minutes": m.EstimatedMinutes,
	})
}

func (a *OrdersAPI) feeQuote(w http.ResponseWriter, r *http.Request) {
	if a.fees == nil {
		writeError(w, http.StatusNotImplemented, errors.New("fee calculator not configured"))
		return
	}
	var req struct {
		OrderType   string     `json:"order_type"`
		Origin      coordDTO   `json:"origin"`
		Destination coordDTO   `json:"destination"`
		At          *time.Time `json:"at,omitempty"`
		Rainy       bool       `json:"rainy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"))
		return
	}
	ot := fees.OrderType(req.OrderType)
	if ot == "" {
		ot = fees.OrderTypeRegular
	}
	at := time.Now().UTC()
	if req.At != nil {
		at = *req.At
	}

	b, err := a.fees.Quote(ot,
		geo.Coordinate{Lat: req.Origin.Lat, Lng: req.Origin.Lng},
		geo.Coordinate{Lat: req.Destination.Lat, Lng: req.Destination.Lng},
		at, req.Rainy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid order id"))
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var illegal *lifecycle.IllegalTransitionError
	var badCoord *geo.InvalidCoordinateError
	switch {
	case errors.As(err, &illegal),
		errors.Is(err, pgorders.ErrStatusConflict),
		errors.Is(err, orders.ErrWindowClosed):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, pgx.ErrNoRows):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &badCoord), errors.Is(err, orders.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
