package domain

import "errors"

var (
	ErrGrantNotFound       = errors.New("grant_not_found")
	ErrGrantInactive       = errors.New("grant_inactive")
	ErrDuplicateGrant      = errors.New("duplicate_grant")
	ErrDuplicateCredential = errors.New("duplicate_credential")
	ErrInvalidUnits        = errors.New("invalid_units")
	ErrInvalidUsageType    = errors.New("invalid_usage_type")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrUnitsExceedLimit    = errors.New("units_exceed_limit")
)
