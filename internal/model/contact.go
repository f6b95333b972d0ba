// internal/model/contact.go
package model

import (
	"time"

	"github.com/lib/pq"
)

type Audience struct {
	ID           int            `db:"id" json:"id"`
	UserID       int            `db:"user_id" json:"user_id"`
	Name         string         `db:"name" json:"name"`
	ContactCount int            `db:"contact_count" json:"contact_count"`
	Fields       pq.StringArray `db:"fields" json:"fields"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

type Contact struct {
	ID         int       `db:"id" json:"id"`
	AudienceID int       `db:"audience_id" json:"audience_id"`
	Phone      string    `db:"phone" json:"phone"`
	Data       StringMap `db:"data" json:"data"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// DisplayName picks the first name-like column, falling back to the phone.
func (c Contact) DisplayName() string {
	for _, k := range []string{"nome", "name"} {
		if v := c.Data[k]; v != "" {
			return v
		}
	}
	return c.Phone
}
