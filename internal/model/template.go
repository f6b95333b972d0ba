// internal/model/template.go
package model

import (
	"time"

	"github.com/lib/pq"
)

type TemplateStatus string

const (
	TemplateApproved TemplateStatus = "Approved"
	TemplatePending  TemplateStatus = "Pending"
	TemplateRejected TemplateStatus = "Rejected"
)

type Template struct {
	ID                 int            `db:"id" json:"id"`
	Name               string         `db:"name" json:"name"`
	ProviderTemplateID string         `db:"provider_template_id" json:"provider_template_id"`
	Body               string         `db:"body" json:"body"`
	Variables          pq.StringArray `db:"variables" json:"variables"`
	Status             TemplateStatus `db:"status" json:"status"`
	Language           string         `db:"language" json:"language"`
	Category           string         `db:"category" json:"category"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}
