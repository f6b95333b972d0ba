// internal/model/sender_instance.go
package model

import (
	"strings"
	"time"
)

const (
	InstanceConnected    = "CONNECTED"
	InstanceDisconnected = "DISCONNECTED"

	InstanceTypeBaileys = "BAILEYS"
)

// SenderInstance is a session bridge connection, keyed by the Chatwoot inbox
// it serves. Session campaigns reference it by inbox id.
type SenderInstance struct {
	ID              int       `db:"id" json:"id"`
	ChatwootInboxID int       `db:"chatwoot_inbox_id" json:"chatwoot_inbox_id"`
	InstanceName    string    `db:"instance_name" json:"instance_name"`
	WhatsappNumber  *string   `db:"whatsapp_number" json:"whatsapp_number"`
	Status          string    `db:"status" json:"status"`
	Type            string    `db:"type" json:"type"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

func (s *SenderInstance) IsConnected() bool {
	return strings.EqualFold(s.Status, InstanceConnected)
}
