package location

import (
	"context"

	"github.com/pkg/errors"

	"github.com/HomePlate/OrderTrack/internal/geo"
)

var (
	// ErrPermissionDenied means the platform refused to share the device position.
	ErrPermissionDenied = errors.New("location: permission denied")
	// ErrUnavailable means no position fix could be obtained.
	ErrUnavailable = errors.New("location: unavailable")
	// ErrTimeout means the position request did not complete in time.
	ErrTimeout = errors.New("location: timeout")
)

type Provider interface {
	CurrentPosition(ctx context.Context) (geo.Coordinate, error)
}
