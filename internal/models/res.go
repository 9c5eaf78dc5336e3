package models

import "github.com/joshua-takyi/platerank/internal/apperrors"

type ApiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ApiError   `json:"error,omitempty"`
}

type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func SuccessResponse(data interface{}, message string) ApiResponse {
	return ApiResponse{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func ErrorResponse(code, message, details string) ApiResponse {
	return ApiResponse{
		Success: false,
		Error: &ApiError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// NewPagination derives the page count from total and limit.
func NewPagination(page, limit, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// ErrorResponseFrom maps err onto its HTTP status and error body. The
// underlying cause is only included when includeDetails is set.
func ErrorResponseFrom(err error, includeDetails bool) (int, ApiResponse) {
	appErr := apperrors.From(err)
	details := ""
	if includeDetails && appErr.Err != nil {
		details = appErr.Err.Error()
	}
	return appErr.Status, ErrorResponse(appErr.Code, appErr.Message, details)
}
