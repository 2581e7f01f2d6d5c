package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/tron"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper wraps a validator with the money and address tags used by
// request bodies: usdt_amount, inr_amount and tron_address.
type ValidationHelper struct {
	validator *validator.Validate
}

func NewValidationHelper() *ValidationHelper {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("usdt_amount", amountWithScale(6))
	_ = v.RegisterValidation("inr_amount", amountWithScale(2))
	_ = v.RegisterValidation("tron_address", func(fl validator.FieldLevel) bool {
		return tron.IsValidAddress(fl.Field().String())
	})
	return &ValidationHelper{validator: v}
}

// amountWithScale accepts positive decimal strings with at most places
// fractional digits.
func amountWithScale(places int32) validator.Func {
	return func(fl validator.FieldLevel) bool {
		amount, err := decimal.NewFromString(fl.Field().String())
		if err != nil || !amount.IsPositive() {
			return false
		}
		return amount.Equal(amount.Truncate(places))
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string, len(fieldErrs))
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fieldMessage(err)
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendServiceError maps a service error onto its HTTP status. Internal errors
// are not echoed to the client.
func SendServiceError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}

	var limitErr *LimitExceededError
	if errors.As(err, &limitErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"error": message,
			"limit": limitErr.Limit.String(),
		})
		return
	}
	SendErrorResponse(w, message, status, nil)
}

func fieldMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "usdt_amount":
		return "must be a positive amount with at most 6 decimals"
	case "inr_amount":
		return "must be a positive amount with at most 2 decimals"
	case "tron_address":
		return "must be a valid TRON address"
	default:
		return fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
	}
}
