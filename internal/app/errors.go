package app

import "fmt"

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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errValidation(message string) *DomainError {
	return domainError(422, "VALIDATION", message, nil)
}

// errForbidden carries the permission that was required and the space it was
// required in, for diagnostics.
func errForbidden(message string, details any) *DomainError {
	return domainError(403, "FORBIDDEN", message, details)
}

func errNotFound(message string) *DomainError {
	return domainError(404, "NOT_FOUND", message, nil)
}

func errUnavailable(message string) *DomainError {
	return domainError(503, "UNAVAILABLE", message, nil)
}
