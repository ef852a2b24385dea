package app

import "fmt"

// DomainError is a business-rule failure carrying the HTTP status and the
// stable machine-readable code the API contract promises. Details, when
// set, is serialized verbatim into the error response.
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
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
