package models

import "errors"

// Sentinel errors for the engine. Callers match with errors.Is; the HTTP
// layer maps them to status codes.
var (
	ErrInvalidThreshold  = errors.New("invalid threshold")
	ErrInvalidReading    = errors.New("invalid reading")
	ErrInvalidTask       = errors.New("invalid task")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrDispatch          = errors.New("dispatch failed")
	ErrValidation        = errors.New("validation failed")
)
