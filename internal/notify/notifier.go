// Package notify pushes campaign and delivery status changes to viewers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
	"github.com/unclebandit/wa-campaign-dispatch/internal/queue"
)

const DefaultTopic = "campaign_status_updated"

type EventType string

const (
	EventCampaignStatus EventType = "campaign_status"
	EventDeliveryStatus EventType = "delivery_status"
)

// Event is the JSON document delivered to viewers.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	CampaignID int       `json:"campaignId"`
	ContactID  int       `json:"contactId,omitempty"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

// Notifier is fire-and-forget: implementations log failures instead of
// returning them.
type Notifier interface {
	CampaignStatusChanged(ctx context.Context, campaignID int, status model.CampaignStatus)
	DeliveryStatusChanged(ctx context.Context, campaignID, contactID int, status model.DeliveryStatus)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) CampaignStatusChanged(context.Context, int, model.CampaignStatus) {}

func (Nop) DeliveryStatusChanged(context.Context, int, int, model.DeliveryStatus) {}

// QueueNotifier publishes events on a queue topic.
type QueueNotifier struct {
	Queue queue.Queue
	Topic string
	Now   func() time.Time
}

func NewQueueNotifier(q queue.Queue, topic string) *QueueNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	return &QueueNotifier{Queue: q, Topic: topic, Now: time.Now}
}

func (n *QueueNotifier) CampaignStatusChanged(_ context.Context, campaignID int, status model.CampaignStatus) {
	n.publish(Event{Type: EventCampaignStatus, CampaignID: campaignID, Status: string(status)})
}

func (n *QueueNotifier) DeliveryStatusChanged(_ context.Context, campaignID, contactID int, status model.DeliveryStatus) {
	n.publish(Event{Type: EventDeliveryStatus, CampaignID: campaignID, ContactID: contactID, Status: string(status)})
}

func (n *QueueNotifier) publish(ev Event) {
	ev.ID = uuid.NewString()
	ev.At = n.Now().UTC()

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode notification")
		return
	}
	if err := n.Queue.Publish(n.Topic, payload); err != nil {
		log.Warn().Err(err).Str("topic", n.Topic).Int("campaign_id", ev.CampaignID).Str("type", string(ev.Type)).Msg("Failed to publish notification")
	}
}

var (
	_ Notifier = Nop{}
	_ Notifier = (*QueueNotifier)(nil)
)
