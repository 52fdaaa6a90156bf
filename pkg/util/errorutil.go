package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/ticketguard/ticketing/internal/custody"
	"github.com/ticketguard/ticketing/internal/domain"
	"github.com/ticketguard/ticketing/internal/ledger"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// sentinelMapping binds a domain sentinel to its wire representation.
type sentinelMapping struct {
	target error
	code   string
	status int
}

var sentinelMappings = []sentinelMapping{
	{domain.ErrEventNotFound, "NOT_FOUND", http.StatusNotFound},
	{domain.ErrUserNotFound, "NOT_FOUND", http.StatusNotFound},
	{domain.ErrTicketNotFound, "NOT_FOUND", http.StatusNotFound},
	{domain.ErrWaitlistNotFound, "NOT_FOUND", http.StatusNotFound},
	{domain.ErrNotOwner, "NOT_OWNER", http.StatusForbidden},
	{domain.ErrAlreadyRefunded, "ALREADY_REFUNDED", http.StatusConflict},
	{domain.ErrSoldOut, "SOLD_OUT", http.StatusConflict},
	{domain.ErrAlreadyWaiting, "ALREADY_WAITING", http.StatusConflict},
	{domain.ErrAlreadyOwns, "ALREADY_OWNS", http.StatusConflict},
	{domain.ErrEmailTaken, "EMAIL_TAKEN", http.StatusConflict},
	{domain.ErrInvalidCredentials, "INVALID_CREDENTIALS", http.StatusUnauthorized},
	{domain.ErrEventHasTickets, "EVENT_HAS_TICKETS", http.StatusConflict},
	{domain.ErrEventHasWaitlist, "EVENT_HAS_WAITLIST", http.StatusConflict},

	{ledger.ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ledger.ErrNotOwner, "NOT_OWNER", http.StatusForbidden},
	{ledger.ErrRejected, "LEDGER_REJECTED", http.StatusBadGateway},
	{ledger.ErrUnavailable, "LEDGER_UNAVAILABLE", http.StatusServiceUnavailable},
	{ledger.ErrInsufficientFunds, "INSUFFICIENT_FUNDS", http.StatusServiceUnavailable},
}

// ToDomainError converts generic errors to DomainError. Sentinels from the
// purchase/refund/waitlist core map onto stable wire codes; ambiguous-outcome
// and custody failures deliberately surface as internal conditions rather
// than user-facing failures.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	for _, m := range sentinelMappings {
		if errors.Is(err, m.target) {
			return &DomainError{
				Code:       m.code,
				Message:    m.target.Error(),
				HTTPStatus: m.status,
				Err:        err,
			}
		}
	}

	// Ambiguous outcomes and mint-log mismatches are reconciliation states,
	// not user-visible failures; if one escapes this far it is internal.
	if errors.Is(err, ledger.ErrOutcomeUnknown) || errors.Is(err, ledger.ErrMintConfirmationAmbiguous) ||
		errors.Is(err, custody.ErrDecryptionFailed) {
		if de, ok := NewInternalError(err).(*DomainError); ok {
			return de
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}

	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
