// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignInFlight is returned when a mutation is refused because the
// campaign is being dispatched.
var ErrCampaignInFlight = errors.New("campaign is in progress")

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ValidationError reports a rejected input or an undispatchable campaign.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ErrInvalidTransition is returned when a campaign is not in a status that
// allows the requested change.
type ErrInvalidTransition struct {
	CampaignID int
	From       string
	To         string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("campaign %d cannot move from %q to %q", e.CampaignID, e.From, e.To)
}

// ChannelError wraps a failed send outcome for one contact.
type ChannelError struct {
	ContactID int
	Reason    string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("send to contact %d failed: %s", e.ContactID, e.Reason)
}
