package dto

import (
	"time"

	"github.com/turtacn/certguard/pkg/errors"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorDTO   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type ErrorDTO struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Description string                 `json:"description,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func SuccessResponse(data interface{}, requestID string) *APIResponse {
	return &APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}

// ErrorResponse renders err. Errors that are not GuardErrors are reported as a
// generic server error so internal details do not leak.
func ErrorResponse(err error, requestID string) *APIResponse {
	errorDTO := &ErrorDTO{
		Code:    "server_error",
		Message: "internal server error",
	}
	if ge, ok := errors.AsGuardError(err); ok {
		errorDTO = &ErrorDTO{
			Code:        string(ge.Code()),
			Message:     ge.Error(),
			Description: ge.Description(),
		}
		if md := ge.Metadata(); len(md) > 0 {
			errorDTO.Details = md
		}
	}
	return &APIResponse{
		Success:   false,
		Error:     errorDTO,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
