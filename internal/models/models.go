// Package models defines the core data structures for ReplyPipe.
//
// It includes chat messages, transport-agnostic inbound/outbound message types,
// appointment and transfer records, and the JSON envelopes used by the API.
package models

import "errors"

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for an outbound message body
	MaxMessageBodyLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient  = errors.New("recipient cannot be empty")
	ErrEmptyBody       = errors.New("message body cannot be empty")
	ErrBodyTooLong     = errors.New("message body exceeds maximum length")
	ErrMissingOperator = errors.New("operator is required")
)

// ChatRole identifies the author of a chat message in LLM conversations.
type ChatRole string

const (
	// RoleSystem carries instructions for the model.
	RoleSystem ChatRole = "system"
	// RoleUser is the end user writing on WhatsApp.
	RoleUser ChatRole = "user"
	// RoleAssistant is a reply shown to the end user (automated or operator).
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is a single turn in a conversation.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// SystemMessage builds a system turn.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// UserMessage builds a user turn.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant turn.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// SendMessageRequest is the payload for the operator manual-send endpoint.
type SendMessageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Validate checks a SendMessageRequest.
func (r *SendMessageRequest) Validate() error {
	if r.To == "" {
		return ErrEmptyRecipient
	}
	if r.Body == "" {
		return ErrEmptyBody
	}
	if len(r.Body) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
