package engine

import (
	"errors"
	"fmt"

	"github.com/untoldecay/taskgraph/internal/storage"
)

// Error codes returned to clients. Stable strings; clients branch on them.
const (
	CodeValidation              = "validation_error"
	CodeNotFound                = "not_found"
	CodeProjectNotFound         = "project_not_found"
	CodeCycleDetected           = "cycle_detected"
	CodeDuplicateEdge           = "duplicate_edge"
	CodeCrossProjectEdge        = "cross_project_edge"
	CodeDiscoveryPending        = "discovery_pending"
	CodeResolveRequiresEvidence = "resolve_requires_evidence"
	CodeBlockedRequiresReason   = "blocked_requires_reason"
	CodeRevMismatch             = "rev_mismatch"
	CodeFreeTierLimit           = "free_tier_limit"
	CodeInvalidCategory         = "invalid_category"
	CodeEngine                  = "engine_error"
)

// Error is a coded engine error. The code crosses the RPC boundary verbatim.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds a coded error.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code, mapping storage sentinels and falling back
// to engine_error for anything uncoded.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, storage.ErrNotFound) {
		return CodeNotFound
	}
	if errors.Is(err, storage.ErrDuplicateEdge) {
		return CodeDuplicateEdge
	}
	return CodeEngine
}
