package ordersync

import (
	"errors"
	"fmt"

	"github.com/mmdatafocus/order_printer/allvalue"
	"github.com/mmdatafocus/order_printer/printing"
)

// Phase names the pipeline step an error came from.
type Phase string

const (
	PhaseToken     Phase = "token"
	PhaseFetch     Phase = "fetch"
	PhaseNormalize Phase = "normalize"
	PhaseUpsert    Phase = "upsert"
	PhaseSettings  Phase = "settings"
	PhasePrint     Phase = "print"
	PhaseStatus    Phase = "status"
	PhaseList      Phase = "list"
)

// UpstreamError is a failed call to the shop API.
type UpstreamError = allvalue.UpstreamError

// PrintError is a failed render or spool.
type PrintError = printing.PrintError

// AuthError means no usable access token could be obtained.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("%s: access token: %v", PhaseToken, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError is an order document that cannot be keyed or stored as-is.
type ValidationError struct {
	NodeId string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: order %s: %s", PhaseNormalize, e.NodeId, e.Reason)
}

// PersistenceError wraps a failed store write.
type PersistenceError struct {
	Phase      Phase
	BusinessId string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: order %s: %v", e.Phase, e.BusinessId, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// phaseOf reports the phase for logging.
func phaseOf(err error) Phase {
	var (
		authErr    *AuthError
		upErr      *UpstreamError
		valErr     *ValidationError
		persistErr *PersistenceError
		printErr   *PrintError
	)
	switch {
	case errors.As(err, &authErr):
		return PhaseToken
	case errors.As(err, &upErr):
		return PhaseFetch
	case errors.As(err, &valErr):
		return PhaseNormalize
	case errors.As(err, &persistErr):
		return persistErr.Phase
	case errors.As(err, &printErr):
		return PhasePrint
	default:
		return ""
	}
}
