package transfer

import "github.com/BTreeMap/ReplyPipe/internal/models"

// Priority bounds. Higher is more urgent.
const (
	MaxPriority     = 10
	MinPriority     = 1
	defaultPriority = 5
)

var priorities = map[models.TransferReason]int{
	models.TransferReasonSuspicionDetected:  10,
	models.TransferReasonCriticalError:      9,
	models.TransferReasonUserRequested:      8,
	models.TransferReasonHighValueClient:    8,
	models.TransferReasonNegativeEmotion:    7,
	models.TransferReasonSimpleQuestionFail: 6,
	models.TransferReasonEthicalRefusal:     5,
	models.TransferReasonComplexQuery:       4,
	models.TransferReasonLLMFailure:         3,
}

// PriorityFor returns the fixed priority of reason.
func PriorityFor(reason models.TransferReason) int {
	if p, ok := priorities[reason]; ok {
		return p
	}
	return defaultPriority
}
