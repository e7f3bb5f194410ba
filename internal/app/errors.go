package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any DomainError carrying the same code, so wrapped or
// detail-enriched instances still compare equal to the sentinels below.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

var (
	ErrUnauthenticated = &DomainError{Status: http.StatusUnauthorized, Code: "UNAUTHENTICATED", Message: "Authentication required"}
	ErrNotFound        = &DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "Document not found"}
	ErrAccessDenied    = &DomainError{Status: http.StatusForbidden, Code: "ACCESS_DENIED", Message: "Access denied"}
	ErrVersionConflict = &DomainError{Status: http.StatusConflict, Code: "VERSION_CONFLICT", Message: "Document changed since it was loaded"}
	// ErrVersionSequence marks a broken save/snapshot pairing. It is never
	// retried or repaired: the operation aborts.
	ErrVersionSequence = &DomainError{Status: http.StatusInternalServerError, Code: "VERSION_SEQUENCE", Message: "Version history out of sequence"}
	ErrTransport       = &DomainError{Status: http.StatusBadGateway, Code: "TRANSPORT_ERROR", Message: "Backend unreachable"}
)

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func versionConflict(currentVersion int64) *DomainError {
	return &DomainError{
		Status:  http.StatusConflict,
		Code:    ErrVersionConflict.Code,
		Message: ErrVersionConflict.Message,
		Details: map[string]any{"currentVersion": currentVersion},
	}
}
