// internal/model/delivery_record.go
package model

import (
	"strings"
	"time"
)

type DeliveryStatus string

const (
	DeliverySubmitted DeliveryStatus = "submitted"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryResponded DeliveryStatus = "responded"
	DeliveryFailed    DeliveryStatus = "failed"
)

var deliveryRank = map[DeliveryStatus]int{
	DeliverySubmitted: 1,
	DeliverySent:      2,
	DeliveryDelivered: 3,
	DeliveryRead:      4,
	DeliveryResponded: 5,
}

func (s DeliveryStatus) Valid() bool {
	_, ok := deliveryRank[s]
	return ok || s == DeliveryFailed
}

// IsTerminal reports whether no further status change is accepted.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryResponded || s == DeliveryFailed
}

// CanAdvanceTo reports whether a record in status s may move to next.
// Repeats, regressions and changes out of a terminal status are refused.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if !next.Valid() || s == next || s.IsTerminal() {
		return false
	}
	if next == DeliveryFailed {
		return s == DeliverySubmitted || s == DeliverySent
	}
	return deliveryRank[next] > deliveryRank[s]
}

// ParseDeliveryStatus normalizes a provider status string.
func ParseDeliveryStatus(raw string) (DeliveryStatus, bool) {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "enqueued", "submitted":
		return DeliverySubmitted, true
	default:
		st := DeliveryStatus(s)
		return st, st.Valid()
	}
}

type DeliveryRecord struct {
	ID                int            `db:"id" json:"id"`
	CampaignID        int            `db:"campaign_id" json:"campaign_id"`
	ContactID         int            `db:"contact_id" json:"contact_id"`
	ProviderMessageID *string        `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Status            DeliveryStatus `db:"status" json:"status"`
	LastError         string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// DeliveryReportRow is one contact line of a campaign report.
type DeliveryReportRow struct {
	ContactID int            `db:"contact_id"`
	Phone     string         `db:"phone"`
	Data      StringMap      `db:"data"`
	Status    DeliveryStatus `db:"status"`
}

// DeliveryStats holds cumulative per-status counts for one campaign.
type DeliveryStats struct {
	Total     int `json:"total"`
	Submitted int `json:"submitted"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Responded int `json:"responded"`
	Failed    int `json:"failed"`
}
