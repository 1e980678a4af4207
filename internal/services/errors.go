package services

import "errors"

var (
	// ErrInvalidInput indicates required fields were missing or malformed.
	ErrInvalidInput = errors.New("services: invalid input")
	// ErrProRequired indicates the caller must be a Pro member.
	ErrProRequired = errors.New("services: pro membership required")
	// ErrUserNotFound indicates the user profile does not exist.
	ErrUserNotFound = errors.New("services: user not found")
	// ErrFeatureDisabled indicates the operation is switched off in this environment.
	ErrFeatureDisabled = errors.New("services: feature disabled")
	// ErrPaymentsUnavailable indicates no payment provider is configured.
	ErrPaymentsUnavailable = errors.New("services: payments unavailable")
	// ErrPaymentNotCompleted indicates the referenced payment has not succeeded for the caller.
	ErrPaymentNotCompleted = errors.New("services: payment not completed")
	// ErrPlateDecodingUnavailable indicates plate decoding is not configured.
	ErrPlateDecodingUnavailable = errors.New("services: plate decoding unavailable")
)
