package domain

import "errors"

var (
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrPaymentExists      = errors.New("payment_exists")
	ErrInvalidPayment     = errors.New("invalid_payment")
	ErrAlreadySettled     = errors.New("payment_already_settled")
	ErrUnknownProviderRef = errors.New("unknown_provider_ref")
)
