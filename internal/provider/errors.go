package provider

import (
	"fmt"
	"net/http"
)

// RoutingError reports a route whose backend cannot be used.
type RoutingError struct {
	Backend string
	Err     error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("route to backend %q: %v", e.Backend, e.Err)
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

// UpstreamError reports a failed backend call. Status is zero when no
// response was received; otherwise Body and ContentType hold the upstream
// error response unchanged.
type UpstreamError struct {
	Backend     string
	Status      int
	Body        []byte
	ContentType string
	Err         error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("backend %q unreachable: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("backend %q returned status %d", e.Backend, e.Status)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status to relay to the client: the upstream status, or
// 502 when the backend could not be reached.
func (e *UpstreamError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusBadGateway
	}
	return e.Status
}
