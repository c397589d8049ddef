package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// CallError is the typed outcome of one outbound call. Transient failures
// (server-side 5xx, network and timeout errors) are eligible for retry;
// everything else is deterministic and surfaced immediately.
type CallError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		if e.Detail != "" {
			return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Detail)
		}
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *CallError) Transient() bool {
	if e.StatusCode >= 500 {
		return true
	}
	if e.StatusCode > 0 {
		return false
	}
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return true
	}
	return e.Err != nil
}

// IsTransient classifies an arbitrary error for the retry primitive.
func IsTransient(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Transient()
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.StatusCode
	}
	return 0
}

// IsNotFound reports a 404 outcome.
func IsNotFound(err error) bool { return StatusOf(err) == http.StatusNotFound }

// IsConflict reports a 409 outcome.
func IsConflict(err error) bool { return StatusOf(err) == http.StatusConflict }

// DeploymentError is a fatal deployment outcome carrying the resolved
// remote error detail.
type DeploymentError struct {
	ArtifactID string
	Status     string
	Detail     string
}

func (e *DeploymentError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("deployment of %s failed with status %s: %s", e.ArtifactID, e.Status, e.Detail)
	}
	return fmt.Sprintf("deployment of %s failed with status %s", e.ArtifactID, e.Status)
}

// ErrPollingExhausted marks the soft, non-fatal outcome of a status poll
// that ran out of attempts while the deployment was still pending.
var ErrPollingExhausted = errors.New("deployment status polling exhausted while still pending")
