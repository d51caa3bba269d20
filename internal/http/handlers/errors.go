// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them, never on
// the human-readable message. Generic codes mirror HTTP status semantics;
// domain codes are reserved for failures the status alone cannot convey.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_amount",
//	  "message": "amount must be greater than zero"
//	}
package handlers

const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeInternal   = "internal_error"

	// Domain-specific:
	ErrCodeInvalidProduct = "invalid_product"
	ErrCodeInvalidAmount  = "invalid_amount"
	ErrCodeInvalidName    = "invalid_name"
	ErrCodeInvalidPrice   = "invalid_price"
	ErrCodeQueryTooLong   = "query_too_long"
	ErrCodeCreateFailed   = "create_failed"
	ErrCodeSearchFailed   = "search_failed"

	ErrCodeMethodNotAllowed = "method_not_allowed"
)
