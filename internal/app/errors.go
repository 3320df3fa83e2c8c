package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error the HTTP layer reports with its own status and code.
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
	return e.Code + ": " + e.Message
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func errSubAssignmentNotFound(subID string) *DomainError {
	return domainError(http.StatusNotFound, "SUB_ASSIGNMENT_NOT_FOUND", fmt.Sprintf("Teilaufgabe %q nicht gefunden.", subID), nil)
}

func errSlotNotFound(slotID string) *DomainError {
	return domainError(http.StatusNotFound, "SLOT_NOT_FOUND", fmt.Sprintf("unknown editor %q", slotID), map[string]string{"slot": slotID})
}

var errNoSolution = domainError(http.StatusNotFound, "NO_SOLUTION", "Für diese Teilaufgabe gibt es keine Lösung.", nil)
