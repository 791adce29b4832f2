package narrative

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a stable, machine-readable error code
type Code string

const (
	CodeNotFound                   Code = "NOT_FOUND"
	CodeBranchLocked               Code = "BRANCH_LOCKED"
	CodeBranchConflict             Code = "BRANCH_CONFLICT"
	CodeRequirementUnsatisfied     Code = "REQUIREMENT_UNSATISFIED"
	CodeInvalidChoice              Code = "INVALID_CHOICE"
	CodePhaseOrderViolation        Code = "PHASE_ORDER_VIOLATION"
	CodeNarrativeCoherence         Code = "NARRATIVE_COHERENCE_ERROR"
	CodeDownstreamDeliveryDeferred Code = "DOWNSTREAM_DELIVERY_DEFERRED"
	CodeInvalidArgument            Code = "INVALID_ARGUMENT"
	CodeQuestAlreadyActive         Code = "QUEST_ALREADY_ACTIVE"
	CodeNotPartyLeader             Code = "NOT_PARTY_LEADER"
)

// HTTPStatus maps a code to the status used by the HTTP transport
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBranchLocked, CodeRequirementUnsatisfied:
		return http.StatusUnprocessableEntity
	case CodeBranchConflict, CodePhaseOrderViolation, CodeQuestAlreadyActive:
		return http.StatusConflict
	case CodeInvalidChoice, CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotPartyLeader:
		return http.StatusForbidden
	case CodeDownstreamDeliveryDeferred:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// Error is a narrative failure carrying a stable code and the details a client
// needs to render actionable guidance.
type Error struct {
	Code         Code     `json:"code"`
	Message      string   `json:"message"`
	MissingFlags []string `json:"missing_flags,omitempty"`
	MissingItems []string `json:"missing_items,omitempty"`
	Reasons      []string `json:"reasons,omitempty"`
	Conflicts    []string `json:"conflicts,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(e.Reasons, "; "))
}

// Is matches errors by code so callers can use errors.Is with the sentinels below
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// Sentinels for errors.Is checks
var (
	ErrNotFound               = &Error{Code: CodeNotFound}
	ErrBranchLocked           = &Error{Code: CodeBranchLocked}
	ErrBranchConflict         = &Error{Code: CodeBranchConflict}
	ErrRequirementUnsatisfied = &Error{Code: CodeRequirementUnsatisfied}
	ErrInvalidChoice          = &Error{Code: CodeInvalidChoice}
	ErrPhaseOrderViolation    = &Error{Code: CodePhaseOrderViolation}
	ErrNarrativeCoherence     = &Error{Code: CodeNarrativeCoherence}
	ErrDeliveryDeferred       = &Error{Code: CodeDownstreamDeliveryDeferred}
	ErrInvalidArgument        = &Error{Code: CodeInvalidArgument}
	ErrQuestAlreadyActive     = &Error{Code: CodeQuestAlreadyActive}
	ErrNotPartyLeader         = &Error{Code: CodeNotPartyLeader}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(kind, id string) *Error {
	return newError(CodeNotFound, "%s not found: %s", kind, id)
}

// CodeOf extracts the code of a narrative error, or "" for foreign errors
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// AsError returns the narrative error inside err, if any
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
