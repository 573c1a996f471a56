package domain

import "errors"

var (
	ErrAutomationNotFound = errors.New("automation_not_found")
	ErrAutomationExists   = errors.New("automation_exists")
	ErrInvalidAutomation  = errors.New("invalid_automation")
)
