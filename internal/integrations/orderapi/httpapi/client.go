package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/integrations/orderapi"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
)

// Client talks to a running order-api over its JSON endpoints.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
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

type eligibilityDTO struct {
	CanCancel        bool `json:"can_cancel"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

func toOrder(d *orderDTO) *models.Order {
	o := &models.Order{
		ID:                   d.ID,
		Number:               d.Number,
		Status:               lifecycle.Status(d.Status),
		PickupLocation:       toLocation(d.Pickup),
		DeliveryLocation:     toLocation(d.Delivery),
		CancellationDeadline: d.CancellationDeadline,
		AgentPositionAt:      d.AgentPositionAt,
		PickedUpAt:           d.PickedUpAt,
		DeliveredAt:          d.DeliveredAt,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
	if d.AgentPosition != nil {
		o.AgentPosition = &geo.Coordinate{Lat: d.AgentPosition.Lat, Lng: d.AgentPosition.Lng}
	}
	return o
}

func toLocation(d locationDTO) models.Location {
	loc := models.Location{Address: d.Address}
	if d.Coord != nil {
		loc.Coord = &geo.Coordinate{Lat: d.Coord.Lat, Lng: d.Coord.Lng}
	}
	return loc
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal body")
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("order-api http %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("order-api http %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "decode")
		}
	}
	return nil
}

func (c *Client) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	var d orderDTO
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", orderID), nil, &d); err != nil {
		return nil, err
	}
	return toOrder(&d), nil
}

func (c *Client) GetCancellationEligibility(ctx context.Context, orderID uint64) (orderapi.Eligibility, error) {
	var d eligibilityDTO
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d/eligibility", orderID), nil, &d); err != nil {
		return orderapi.Eligibility{}, err
	}
	return orderapi.Eligibility{CanCancel: d.CanCancel, RemainingSeconds: d.RemainingSeconds}, nil
}

func (c *Client) RequestCancellation(ctx context.Context, orderID uint64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/cancel", orderID), nil, nil)
}

func (c *Client) AdvanceStatus(ctx context.Context, orderID uint64, to lifecycle.Status, role lifecycle.Role) (*models.Order, error) {
	body := struct {
		Status string `json:"status"`
		Role   string `json:"role"`
	}{Status: string(to), Role: string(role)}

	var d orderDTO
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/advance", orderID), body, &d); err != nil {
		return nil, err
	}
	return toOrder(&d), nil
}

func (c *Client) MarkPickedUp(ctx context.Context, orderID uint64, position *geo.Coordinate) (*models.Order, error) {
	var body struct {
		Position *coordDTO `json:"position,omitempty"`
	}
	if position != nil {
		body.Position = &coordDTO{Lat: position.Lat, Lng: position.Lng}
	}

	var d orderDTO
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/pickup", orderID), body, &d); err != nil {
		return nil, err
	}
	return toOrder(&d), nil
}

func (c *Client) StartTracking(ctx context.Context, orderID uint64, position geo.Coordinate) error {
	body := struct {
		Position coordDTO `json:"position"`
	}{Position: coordDTO{Lat: position.Lat, Lng: position.Lng}}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/tracking/start", orderID), body, nil)
}
