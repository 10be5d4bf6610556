package annotate

import (
	"context"
	"errors"

	"levelbridge/internal/chart"
	"levelbridge/internal/upstream"
)

// Status turns an error from a cycle into a one-line message for the user.
func Status(err error) string {
	switch {
	case err == nil:
		return "Done"
	case errors.Is(err, upstream.ErrUnauthenticated):
		return "Not signed in to the data site. Log in and try again."
	case errors.Is(err, upstream.ErrSessionExpired):
		return "Data site session expired. Log in again."
	case errors.Is(err, upstream.ErrTokenRejected):
		return "Request token was stale and has been reset. Try again."
	case errors.Is(err, chart.ErrUnavailable):
		return "Chart not ready. Open a chart and try again."
	case errors.Is(err, chart.ErrTimeout):
		return "Chart did not respond in time."
	case errors.Is(err, chart.ErrRejected):
		return "Chart refused the drawing: " + err.Error()
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out."
	case errors.Is(err, upstream.ErrGeneric):
		return "Fetch failed: " + err.Error()
	}
	return "Error: " + err.Error()
}
