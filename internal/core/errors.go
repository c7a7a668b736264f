// Package core defines the fundamental types and errors for the buying habits kit.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Agent errors
	ErrAgentNotFound       = errors.New("agent not found")
	ErrAgentExists         = errors.New("agent already exists")
	ErrInsufficientHistory = errors.New("insufficient history")

	// Request errors
	ErrUnknownUpdateType    = errors.New("unknown update type")
	ErrUnknownInterestLevel = errors.New("unknown interest level")

	// Storage errors
	ErrRecordNotFound = errors.New("record not found")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
