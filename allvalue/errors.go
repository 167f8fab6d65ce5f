package allvalue

import (
	"errors"
	"fmt"
)

var ErrMissingToken = errors.New("allvalue: no access token configured")

// UpstreamError is returned for transport failures, non-2xx replies and GraphQL errors.
type UpstreamError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("allvalue %s: http %d: %s", e.Op, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("allvalue %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("allvalue %s: %s", e.Op, e.Message)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }
