// Package services defines the business logic for orders and products.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Order-related errors.
var (
	// ErrOrderNotFound indicates that the requested order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidProduct is returned when the product name is empty or too long.
	ErrInvalidProduct = errors.New("product is required and must be at most 255 characters")

	// ErrInvalidAmount is returned when the ordered amount is not positive.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
)

// Product-related errors.
var (
	// ErrInvalidName is returned when a product name is empty or too long.
	ErrInvalidName = errors.New("name is required and must be at most 255 characters")

	// ErrInvalidPrice is returned for negative prices.
	ErrInvalidPrice = errors.New("price must not be negative")

	// ErrQueryTooLong is returned when a search term exceeds the allowed length.
	ErrQueryTooLong = errors.New("search query too long")
)
