package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors used across ports.
var (
	ErrStrategyNotFound  = errors.New("strategy not found")
	ErrScenarioNotFound  = errors.New("scenario not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidScenario   = errors.New("invalid scenario")
	ErrRetrievalEmpty    = errors.New("no similar scenarios retrieved")
	ErrReasoningContract = errors.New("reasoning response violates contract")
	ErrConnectivity      = errors.New("external service unreachable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
)

// ValidationError lists every plausibility check a scenario failed.
type ValidationError struct {
	ScenarioID string
	Errors     []string
}

func (e *ValidationError) Error() string {
	id := e.ScenarioID
	if id == "" {
		id = "<unnamed>"
	}
	return fmt.Sprintf("invalid scenario %s: %s", id, strings.Join(e.Errors, "; "))
}

// Is makes errors.Is(err, ErrInvalidScenario) match.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidScenario }

// ReasoningContractError is returned when the reasoning service answers with
// something that is not a well-formed decision.
type ReasoningContractError struct {
	Reason string
	Raw    string
}

func (e *ReasoningContractError) Error() string {
	return fmt.Sprintf("reasoning contract: %s (response: %q)", e.Reason, truncate(e.Raw, 200))
}

// Is makes errors.Is(err, ErrReasoningContract) match.
func (e *ReasoningContractError) Is(target error) bool { return target == ErrReasoningContract }

// ConnectivityError wraps a transport failure talking to the encoder or the
// reasoning service. It is an infrastructure fault, not a data fault.
type ConnectivityError struct {
	Service  string
	Endpoint string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s at %s unreachable: %v", e.Service, e.Endpoint, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnectivity) match.
func (e *ConnectivityError) Is(target error) bool { return target == ErrConnectivity }

// Timeout reports whether the failure was a deadline rather than a refusal.
func (e *ConnectivityError) Timeout() bool {
	var ne net.Error
	if errors.As(e.Err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsRetryable reports whether err is worth retrying by the caller.
// Only connectivity failures qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
