package chat

import (
	"fmt"

	"github.com/dealdesk/dealdesk/pkg/models"
)

// NotReadyError is returned when chat is requested for a deal whose
// pipeline has not finished yet. Handlers map it to a retry-later
// response.
type NotReadyError struct {
	DealID string
	Status models.DealStatus
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("deal %s is not ready for chat (status: %s)", e.DealID, e.Status)
}

// InErrorStateError is returned when chat is requested for a deal whose
// pipeline failed. The failed run must be restarted before chat works.
type InErrorStateError struct {
	DealID string
	Detail *models.ErrorDetail
}

func (e *InErrorStateError) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("deal %s pipeline failed at stage %s: %s", e.DealID, e.Detail.Stage, e.Detail.Message)
	}
	return fmt.Sprintf("deal %s pipeline failed", e.DealID)
}
