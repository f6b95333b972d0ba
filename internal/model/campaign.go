// internal/model/campaign.go
package model

import (
	"strings"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "Draft"
	CampaignScheduled  CampaignStatus = "Scheduled"
	CampaignInProgress CampaignStatus = "In Progress"
	CampaignCompleted  CampaignStatus = "Completed"
	CampaignError      CampaignStatus = "Error"
)

// MessageInterval is the pacing tier used between two sends of one campaign.
type MessageInterval string

const (
	IntervalSlow   MessageInterval = "slow"
	IntervalMedium MessageInterval = "medium"
	IntervalFast   MessageInterval = "fast"
)

func (i MessageInterval) Valid() bool {
	switch i {
	case IntervalSlow, IntervalMedium, IntervalFast:
		return true
	}
	return false
}

type ChannelType string

const (
	ChannelOfficialTemplate ChannelType = "official_template"
	ChannelSessionBridge    ChannelType = "session_bridge"
)

// Normalize maps the empty value to the official template channel.
func (t ChannelType) Normalize() ChannelType {
	if strings.TrimSpace(string(t)) == "" {
		return ChannelOfficialTemplate
	}
	return t
}

type Campaign struct {
	ID                 int             `db:"id" json:"id"`
	UserID             int             `db:"user_id" json:"user_id"`
	Name               string          `db:"name" json:"name"`
	Status             CampaignStatus  `db:"status" json:"status"`
	ScheduledAt        *time.Time      `db:"scheduled_at" json:"scheduled_at,omitempty"`
	MessageInterval    MessageInterval `db:"message_interval" json:"message_interval"`
	VariableMapping    StringMap       `db:"variable_mapping" json:"variable_mapping"`
	ChannelType        ChannelType     `db:"channel_type" json:"channel_type"`
	ChannelInstanceRef string          `db:"channel_instance_ref" json:"channel_instance_ref,omitempty"`
	TemplateID         *int            `db:"template_id" json:"template_id,omitempty"`
	CustomBody         string          `db:"custom_body" json:"custom_body,omitempty"`
	AudienceID         int             `db:"audience_id" json:"audience_id"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          *time.Time      `db:"updated_at" json:"updated_at,omitempty"`

	// Eagerly loaded by the dispatch query.
	Template *Template `db:"-" json:"template,omitempty"`
	Audience *Audience `db:"-" json:"audience,omitempty"`
	Contacts []Contact `db:"-" json:"-"`
}

// ContentBody returns the free-text body when set, else the template body.
func (c *Campaign) ContentBody() string {
	if strings.TrimSpace(c.CustomBody) != "" {
		return c.CustomBody
	}
	if c.Template != nil {
		return c.Template.Body
	}
	return ""
}

func (c *Campaign) HasContent() bool {
	return c.ContentBody() != "" || c.Template != nil
}
