// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidQuantity     = errors.New("computed quantity is not positive")
	ErrNoPosition          = errors.New("no open position")
	ErrPositionOpen        = errors.New("position already open")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrTemplateNotFound    = errors.New("template not found")
	ErrAgentCapReached     = errors.New("maximum running agents reached")
	ErrAlreadyRunning      = errors.New("agent already running")
	ErrNotRunning          = errors.New("agent not running")
	ErrUnknownStrategy     = errors.New("unknown strategy")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrDataNotFound        = errors.New("data not found")
	ErrBackendUnavailable  = errors.New("persistence backend unavailable")
	ErrFeeLookupFailed     = errors.New("fee lookup failed")
	ErrFeeFormat           = errors.New("unrecognised fee format")
	ErrInsufficientHistory = errors.New("insufficient market history")
)

// TradeError describes a rejected simulated fill.
type TradeError struct {
	Side   string
	Asset  string
	Reason string
	Err    error
}

func (e *TradeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("trade error [%s %s]: %s: %v", e.Side, e.Asset, e.Reason, e.Err)
	}
	return fmt.Sprintf("trade error [%s %s]: %s", e.Side, e.Asset, e.Reason)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

// NewTradeError creates a new TradeError.
func NewTradeError(side, asset, reason string, err error) *TradeError {
	return &TradeError{
		Side:   side,
		Asset:  asset,
		Reason: reason,
		Err:    err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// AgentError represents a failed lifecycle operation on an agent.
type AgentError struct {
	AgentID   string
	Operation string
	Err       error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent error [%s] %s: %v", e.AgentID, e.Operation, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// NewAgentError creates a new AgentError.
func NewAgentError(agentID, operation string, err error) *AgentError {
	return &AgentError{
		AgentID:   agentID,
		Operation: operation,
		Err:       err,
	}
}

// StoreError wraps a failure from a persistence backend.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s] %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(backend, op string, err error) *StoreError {
	return &StoreError{
		Backend: backend,
		Op:      op,
		Err:     err,
	}
}

// RiskError represents a risk management violation.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
