// Package errors provides unified structured error handling for the
// control-plane core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ReasonCode is a stable machine-readable identifier for a failure mode,
// fixed by the contract layer's reason-code table.
type ReasonCode string

const (
	ReasonUnsupportedVersion       ReasonCode = "unsupported_version"
	ReasonMissingWorkspaceHeader   ReasonCode = "missing_workspace_header"
	ReasonMissingRequiredField     ReasonCode = "missing_required_field"
	ReasonInvalidWorkItemType      ReasonCode = "invalid_work_item_type"
	ReasonUnauthorizedWorkspace    ReasonCode = "unauthorized_workspace"
	ReasonUnknownAgent             ReasonCode = "unknown_agent"
	ReasonAlreadyClaimed           ReasonCode = "already_claimed"
	ReasonCorrelationIDMismatch    ReasonCode = "correlation_id_mismatch"
	ReasonLeaseNotOwned            ReasonCode = "lease_not_owned"
	ReasonLeaseVersionMismatch     ReasonCode = "lease_version_mismatch"
	ReasonHeartbeatRateLimited     ReasonCode = "heartbeat_rate_limited"
	ReasonProjectionUnavailable    ReasonCode = "projection_unavailable"
	ReasonInternalError            ReasonCode = "internal_error"
	ReasonDuplicateIdempotentReplay ReasonCode = "duplicate_idempotent_replay"

	ReasonEngineTokenInvalid       ReasonCode = "engine_token_invalid"
	ReasonEngineTokenExpired       ReasonCode = "engine_token_expired"
	ReasonCapabilityTokenExpired   ReasonCode = "capability_token_expired"
	ReasonKillSwitchActive         ReasonCode = "kill_switch_active"
	ReasonAgentQuarantined         ReasonCode = "agent_quarantined"
	ReasonNoScope                  ReasonCode = "no_scope"
	ReasonQuotaExceeded            ReasonCode = "quota_exceeded"
	ReasonRecommendationNotPending ReasonCode = "recommendation_not_pending"
	ReasonExperimentHasActiveRuns  ReasonCode = "experiment_has_active_runs"
	ReasonExperimentNotOpen        ReasonCode = "experiment_not_open"
	ReasonIncidentClosed           ReasonCode = "incident_closed"
	ReasonIncidentCloseBlockedMissingRCA      ReasonCode = "incident_close_blocked_missing_rca"
	ReasonIncidentCloseBlockedMissingLearning ReasonCode = "incident_close_blocked_missing_learning"
)

// reasonHTTPStatus is the fixed reason-code-to-HTTP-status table from the
// contract layer.
var reasonHTTPStatus = map[ReasonCode]int{
	ReasonUnsupportedVersion:       http.StatusBadRequest,
	ReasonMissingWorkspaceHeader:   http.StatusBadRequest,
	ReasonMissingRequiredField:     http.StatusBadRequest,
	ReasonInvalidWorkItemType:      http.StatusBadRequest,
	ReasonUnauthorizedWorkspace:    http.StatusForbidden,
	ReasonUnknownAgent:             http.StatusNotFound,
	ReasonAlreadyClaimed:           http.StatusConflict,
	ReasonCorrelationIDMismatch:    http.StatusConflict,
	ReasonLeaseNotOwned:            http.StatusConflict,
	ReasonLeaseVersionMismatch:     http.StatusConflict,
	ReasonHeartbeatRateLimited:     http.StatusTooManyRequests,
	ReasonProjectionUnavailable:    http.StatusServiceUnavailable,
	ReasonInternalError:            http.StatusInternalServerError,
	ReasonDuplicateIdempotentReplay: http.StatusOK,

	ReasonEngineTokenInvalid:     http.StatusUnauthorized,
	ReasonEngineTokenExpired:     http.StatusUnauthorized,
	ReasonCapabilityTokenExpired: http.StatusUnauthorized,
	ReasonKillSwitchActive:       http.StatusForbidden,
	ReasonAgentQuarantined:       http.StatusForbidden,
	ReasonNoScope:                http.StatusForbidden,
	ReasonQuotaExceeded:          http.StatusForbidden,
	ReasonRecommendationNotPending:           http.StatusConflict,
	ReasonExperimentHasActiveRuns:            http.StatusConflict,
	ReasonExperimentNotOpen:                  http.StatusConflict,
	ReasonIncidentClosed:                     http.StatusConflict,
	ReasonIncidentCloseBlockedMissingRCA:      http.StatusConflict,
	ReasonIncidentCloseBlockedMissingLearning: http.StatusConflict,
}

// ServiceError is a structured error carrying a stable reason code, an
// operator-facing message, the HTTP status it maps to, and optional
// details.
type ServiceError struct {
	Reason     ReasonCode             `json:"reason_code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Reason, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value to the error's details bag.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError for the given reason code, looking up its
// fixed HTTP status. Unregistered reason codes default to 500.
func New(reason ReasonCode, message string) *ServiceError {
	status, ok := reasonHTTPStatus[reason]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &ServiceError{Reason: reason, Message: message, HTTPStatus: status}
}

// Wrap creates a ServiceError carrying an underlying cause.
func Wrap(reason ReasonCode, message string, err error) *ServiceError {
	se := New(reason, message)
	se.Err = err
	return se
}

// Internal is a convenience constructor for unexpected failures.
func Internal(err error) *ServiceError {
	return Wrap(ReasonInternalError, "internal error", err)
}

// IsServiceError reports whether err is (or wraps) a *ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// AsServiceError extracts a *ServiceError from an error chain, if present.
func AsServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus returns the HTTP status for err, defaulting to 500 when err is
// not a ServiceError.
func HTTPStatus(err error) int {
	if se := AsServiceError(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
