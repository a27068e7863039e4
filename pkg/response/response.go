package response

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	response := Response{
		Success:   statusCode >= 200 && statusCode < 300,
		Data:      data,
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// Success sends a successful JSON response
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Created sends a created JSON response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Error sends an error JSON response
func Error(w http.ResponseWriter, statusCode int, message string, err error) {
	response := ErrorResponse{
		Success:   false,
		Message:   message,
		Timestamp: time.Now(),
	}

	if err != nil {
		response.Error = err.Error()
		var businessErr *pkgerrors.BusinessError
		if errors.As(err, &businessErr) {
			response.Code = businessErr.Code
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		log.Printf("Error encoding error response: %v", encodeErr)
	}
}

// BadRequest sends a 400 bad request response
func BadRequest(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusBadRequest, message, err)
}

// NotFound sends a 404 not found response
func NotFound(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusNotFound, message, err)
}

// Conflict sends a 409 conflict response
func Conflict(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusConflict, message, err)
}

// UnprocessableEntity sends a 422 response for business rule rejections
func UnprocessableEntity(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusUnprocessableEntity, message, err)
}

// InternalServerError sends a 500 internal server error response
func InternalServerError(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusInternalServerError, message, err)
}

// DomainError maps a domain error to the matching HTTP status.
func DomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidAmount):
		BadRequest(w, "Invalid amount", err)
	case errors.Is(err, pkgerrors.ErrLoanNotFound),
		errors.Is(err, pkgerrors.ErrAccountNotFound),
		errors.Is(err, pkgerrors.ErrIntentNotFound):
		NotFound(w, "Resource not found", err)
	case errors.Is(err, pkgerrors.ErrConcurrentModification):
		Conflict(w, "Concurrent modification, retry the request", err)
	case errors.Is(err, pkgerrors.ErrInsufficientFunds),
		errors.Is(err, pkgerrors.ErrAccountInactive),
		errors.Is(err, pkgerrors.ErrOverfundingRejected),
		errors.Is(err, pkgerrors.ErrOverpaymentRejected),
		errors.Is(err, pkgerrors.ErrLoanNotFundable),
		errors.Is(err, pkgerrors.ErrLoanNotRepayable),
		errors.Is(err, pkgerrors.ErrInvalidTransition),
		errors.Is(err, pkgerrors.ErrAmountMismatch),
		errors.Is(err, pkgerrors.ErrCurrencyMismatch):
		UnprocessableEntity(w, "Operation rejected", err)
	default:
		InternalServerError(w, "Internal error", err)
	}
}
