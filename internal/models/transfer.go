package models

import "time"

// TransferReason is the cause of a hand-off to a human operator.
type TransferReason string

// Transfer reasons.
const (
	TransferReasonSimpleQuestionFail TransferReason = "SIMPLE_QUESTION_FAIL"
	TransferReasonSuspicionDetected  TransferReason = "SUSPICION_DETECTED"
	TransferReasonCriticalError      TransferReason = "CRITICAL_ERROR"
	TransferReasonHighValueClient    TransferReason = "HIGH_VALUE_CLIENT"
	TransferReasonNegativeEmotion    TransferReason = "NEGATIVE_EMOTION"
	TransferReasonUserRequested      TransferReason = "USER_REQUESTED"
	TransferReasonEthicalRefusal     TransferReason = "ETHICAL_REFUSAL"
	TransferReasonComplexQuery       TransferReason = "COMPLEX_QUERY"
	TransferReasonLLMFailure         TransferReason = "LLM_FAILURE"
)

// TransferStatus is the lifecycle state of a TransferRecord.
type TransferStatus string

// Transfer statuses.
const (
	TransferStatusPending    TransferStatus = "PENDING"
	TransferStatusInProgress TransferStatus = "IN_PROGRESS"
	TransferStatusCompleted  TransferStatus = "COMPLETED"
	TransferStatusCancelled  TransferStatus = "CANCELLED"
)

// IsActive reports whether an operator still owns the conversation.
func (s TransferStatus) IsActive() bool {
	return s == TransferStatusPending || s == TransferStatusInProgress
}

// Valid reports whether s is a known status.
func (s TransferStatus) Valid() bool {
	switch s {
	case TransferStatusPending, TransferStatusInProgress, TransferStatusCompleted, TransferStatusCancelled:
		return true
	}
	return false
}

// TransferRecord tracks one hand-off. Records are never deleted, only transitioned.
type TransferRecord struct {
	TransferID           string            `json:"transfer_id"`
	ChatID               string            `json:"chat_id"`
	Reason               TransferReason    `json:"reason"`
	Priority             int               `json:"priority"`
	Status               TransferStatus    `json:"status"`
	Silent               bool              `json:"silent"`
	TriggerMessage       string            `json:"trigger_message"`
	ConversationSnapshot []ChatMessage     `json:"conversation_snapshot,omitempty"`
	AssignedTo           string            `json:"assigned_to,omitempty"`
	AssignedAt           *time.Time        `json:"assigned_at,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	Resolution           string            `json:"resolution,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	ClientNotified       bool              `json:"client_notified"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// TransferFilter narrows a transfer query. Zero values do not filter.
type TransferFilter struct {
	ChatID   string           `json:"chat_id,omitempty"`
	Statuses []TransferStatus `json:"statuses,omitempty"`
	Reason   TransferReason   `json:"reason,omitempty"`
	Limit    int              `json:"limit,omitempty"`
}

// AssignTransferRequest is the payload for assigning a transfer to an operator.
type AssignTransferRequest struct {
	Operator string `json:"operator"`
}

// CompleteTransferRequest is the payload for closing a transfer.
type CompleteTransferRequest struct {
	Resolution string `json:"resolution,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
}
