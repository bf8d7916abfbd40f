// Package models defines the core data structures for FlowRouter.
//
// It includes the per-phone flow state, routing decision types, and the
// message wire types shared across modules.
package models

import (
	"errors"
	"time"
)

// ExpectedInput constrains what kind of reply a waiting flow step accepts.
type ExpectedInput string

const (
	// InputText expects free text.
	InputText ExpectedInput = "TEXT"
	// InputNumber expects a reply containing at least one digit.
	InputNumber ExpectedInput = "NUMBER"
	// InputChoice expects a selection from options presented by the flow.
	InputChoice ExpectedInput = "CHOICE"
	// InputMedia expects an attachment; presence is the flow's concern.
	InputMedia ExpectedInput = "MEDIA"
	// InputAny accepts anything non-empty.
	InputAny ExpectedInput = "ANY"
	// InputYesNo expects a confirmation and enables the yes/no fast-path.
	InputYesNo ExpectedInput = "YES_NO"
	// InputGenres expects a list of genres (e.g. for a music USB).
	InputGenres ExpectedInput = "GENRES"
	// InputOK expects a simple acknowledgement.
	InputOK ExpectedInput = "OK"
)

// IsValidExpectedInput checks if the given expected input type is supported.
func IsValidExpectedInput(ei ExpectedInput) bool {
	switch ei {
	case InputText, InputNumber, InputChoice, InputMedia, InputAny, InputYesNo, InputGenres, InputOK:
		return true
	default:
		return false
	}
}

// Validation constants for flow state fields.
const (
	// MaxQuestionTextLength is the column limit for last_question_text.
	MaxQuestionTextLength = 1024
	// DefaultStepTimeoutHours is the staleness threshold applied when a
	// flow does not specify one.
	DefaultStepTimeoutHours = 2.0
)

// Error variables for better error handling and testability.
var (
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrEmptyFlowID      = errors.New("flow id cannot be empty")
	ErrInvalidInputType = errors.New("invalid expected input type")
)

// FlowState represents what a single phone number is currently waiting for.
// At most one FlowState exists per canonical phone; a new Set replaces the
// prior state unconditionally.
type FlowState struct {
	Phone            string            `json:"phone"`
	ActiveFlowID     string            `json:"active_flow_id"`
	ActiveStep       string            `json:"active_step"`
	ExpectedInput    ExpectedInput     `json:"expected_input"`
	LastQuestionID   string            `json:"last_question_id,omitempty"`
	LastQuestionText string            `json:"last_question_text,omitempty"`
	StepTimeoutHours float64           `json:"step_timeout_hours"`
	FlowContext      map[string]string `json:"flow_context,omitempty"` // opaque payload owned by the flow
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`

	// Fail-safe bookkeeping; not part of the persisted contract.
	Persisted         bool      `json:"-"`
	InMemoryCreatedAt time.Time `json:"-"`
	RetryAttempts     int       `json:"-"`
}

// Validate performs basic validation on a FlowState before persistence.
func (s *FlowState) Validate() error {
	if s.Phone == "" {
		return ErrEmptyRecipient
	}
	if s.ActiveFlowID == "" {
		return ErrEmptyFlowID
	}
	if s.ExpectedInput != "" && !IsValidExpectedInput(s.ExpectedInput) {
		return ErrInvalidInputType
	}
	return nil
}

// ValidationResult is the outcome of checking raw input against an
// expected input type. Invalid results always carry a re-prompt.
type ValidationResult struct {
	IsValid         bool   `json:"is_valid"`
	ErrorMessage    string `json:"error_message,omitempty"`
	RepromptMessage string `json:"reprompt_message,omitempty"`
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records the delivery status of an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a customer.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus marks an API response as ok or error.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the envelope for all HTTP API responses.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success wraps a result in an ok envelope.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// Error wraps a message in an error envelope.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
