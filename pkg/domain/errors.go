package domain

import (
	"fmt"
	"net/http"
)

// Kind classifies a domain error for transport mapping and retry policy.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindPermission  Kind = "permission"
	KindFlowPolicy  Kind = "flow_policy"
	KindNotFound    Kind = "not_found"
	KindErpReadonly Kind = "erp_readonly"
	KindIntegration Kind = "integration"
	KindSystem      Kind = "system"
)

// Error is the typed error every service operation returns. The HTTP adapter
// is the only place that translates it into a response; internal callers
// branch on Kind and Code.
type Error struct {
	Kind    Kind           `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// WithDetail returns e with one detail attached.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// HTTPStatus resolves the response status, defaulting by kind.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPermission:
		return http.StatusForbidden
	case KindFlowPolicy, KindErpReadonly:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindIntegration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func Permission(code, message string) *Error {
	return &Error{Kind: KindPermission, Code: code, Message: message}
}

// FlowDenied is raised when the policy table forbids an action at the
// current status. Details carry the actual allowed actions for the client.
func FlowDenied(stage Stage, status string, action Action, allowed []Action, primary Action) *Error {
	e := &Error{
		Kind:    KindFlowPolicy,
		Code:    "action_not_allowed_for_status",
		Message: fmt.Sprintf("action %q is not allowed at %s/%s", action, stage, status),
		Status:  http.StatusConflict,
	}
	e.WithDetail("stage", stage)
	e.WithDetail("status", status)
	e.WithDetail("allowed_actions", allowed)
	if primary != "" {
		e.WithDetail("primary_action", primary)
	}
	return e
}

func NotFound(entity string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "not_found",
		Message: fmt.Sprintf("%s not found for tenant", entity),
	}
}

// ErpManagedReadonly rejects mutations on rows owned by the ERP mirror.
func ErpManagedReadonly(entity string) *Error {
	return &Error{
		Kind:    KindErpReadonly,
		Code:    fmt.Sprintf("erp_managed_%s_readonly", entity),
		Message: fmt.Sprintf("%s is managed by the ERP and read-only here", entity),
		Status:  http.StatusConflict,
	}
}

// ConfirmationRequired rejects a critical action issued without an explicit
// confirmation flag or token. No state change may precede it.
func ConfirmationRequired(action Action, entity string, entityID int64) *Error {
	e := Validation("confirmation_required",
		fmt.Sprintf("action %q requires explicit confirmation", action))
	e.WithDetail("action", action)
	e.WithDetail("entity", entity)
	e.WithDetail("entity_id", entityID)
	return e
}

// Integration wraps an ERP-side failure. Definitive rejections map to 422,
// temporary unavailability to 502 (retried by the outbox).
func Integration(code, message string, definitive bool, cause error) *Error {
	status := http.StatusBadGateway
	if definitive {
		status = http.StatusUnprocessableEntity
	}
	return &Error{Kind: KindIntegration, Code: code, Message: message, Status: status, cause: cause}
}

// System hides uncategorized failures behind a generic message. The cause is
// preserved for logging but never rendered to clients.
func System(cause error) *Error {
	return &Error{
		Kind:    KindSystem,
		Code:    "unexpected_error",
		Message: "an unexpected error occurred",
		cause:   cause,
	}
}

// Result is the tagged outcome of one service operation.
type Result struct {
	Payload    any
	StatusCode int
	Err        *Error
}

// OK builds a successful result.
func OK(status int, payload any) Result {
	return Result{Payload: payload, StatusCode: status}
}

// Fail builds a failed result from a typed error.
func Fail(err *Error) Result {
	return Result{StatusCode: err.HTTPStatus(), Err: err}
}
